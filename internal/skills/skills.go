// internal/skills/skills.go
package skills

// Skill is a named preset that specializes the assistant for one job. The
// core treats the table as immutable.
type Skill struct {
	ID           string
	Name         string
	Icon         string
	Description  string
	SystemPrompt string
	AllowedTools []string
}

// table is the fixed skill preset table.
var table = []*Skill{
	{
		ID:          "code-review",
		Name:        "코드 리뷰",
		Icon:        "🔍",
		Description: "변경된 코드를 리뷰하고 개선점을 제안합니다",
		SystemPrompt: "You are performing a code review. Focus on correctness, " +
			"readability and potential bugs. Do not modify files; report findings instead.",
		AllowedTools: []string{"Read", "Glob", "Grep", "Bash"},
	},
	{
		ID:          "debug",
		Name:        "디버깅",
		Icon:        "🐛",
		Description: "오류의 원인을 추적하고 수정합니다",
		SystemPrompt: "You are debugging. Reproduce the failure first, then find " +
			"the root cause before proposing a fix.",
	},
	{
		ID:          "docs",
		Name:        "문서 작성",
		Icon:        "📝",
		Description: "코드베이스의 문서를 작성하거나 갱신합니다",
		SystemPrompt: "You are writing documentation. Keep it accurate and " +
			"consistent with the code as it exists right now.",
		AllowedTools: []string{"Read", "Write", "Edit", "Glob", "Grep"},
	},
	{
		ID:          "test-writer",
		Name:        "테스트 작성",
		Icon:        "🧪",
		Description: "누락된 테스트를 찾아 작성합니다",
		SystemPrompt: "You are writing tests. Cover the behavior that exists, " +
			"including edge cases; run the suite to confirm it passes.",
	},
	{
		ID:          "daily-report",
		Name:        "일일 리포트",
		Icon:        "📊",
		Description: "작업 디렉토리의 최근 변경 사항을 요약합니다",
		SystemPrompt: "Summarize recent repository activity concisely. Use git " +
			"history and the working tree; do not modify anything.",
		AllowedTools: []string{"Read", "Glob", "Grep", "Bash"},
	},
}

// All returns the full skill table.
func All() []*Skill {
	return table
}

// Lookup returns the skill with the given id, or nil when unknown or id is
// empty.
func Lookup(id string) *Skill {
	if id == "" {
		return nil
	}
	for _, s := range table {
		if s.ID == id {
			return s
		}
	}
	return nil
}
