package protocol

import "fmt"

// toolLabels maps each known tool to its fixed start/end UI label.
var toolLabels = map[string][2]string{
	"Read":         {"📖 파일을 읽는 중...", "📖 파일 읽기 완료"},
	"Write":        {"✏️ 파일을 작성하는 중...", "✏️ 파일 작성 완료"},
	"Edit":         {"🔨 파일을 수정하는 중...", "🔨 파일 수정 완료"},
	"Bash":         {"💻 명령어를 실행하는 중...", "💻 명령어 실행 완료"},
	"Glob":         {"🔍 파일을 찾는 중...", "🔍 파일 찾기 완료"},
	"Grep":         {"🔎 코드를 검색하는 중...", "🔎 코드 검색 완료"},
	"WebFetch":     {"🌐 웹 페이지를 가져오는 중...", "🌐 웹 페이지 가져오기 완료"},
	"WebSearch":    {"🔍 웹을 검색하는 중...", "🔍 웹 검색 완료"},
	"TodoWrite":    {"📝 할 일 목록을 정리하는 중...", "📝 할 일 목록 정리 완료"},
	"NotebookEdit": {"📓 노트북을 수정하는 중...", "📓 노트북 수정 완료"},
}

// ToolLabel returns the fixed UI label for a (tool, status) pair. Unknown
// tools fall back to a generic label carrying the tool name.
func ToolLabel(tool, status string) string {
	if pair, ok := toolLabels[tool]; ok {
		if status == "start" {
			return pair[0]
		}
		return pair[1]
	}
	if status == "start" {
		return fmt.Sprintf("🔧 %s 작업 중...", tool)
	}
	return fmt.Sprintf("🔧 %s 작업 완료", tool)
}
