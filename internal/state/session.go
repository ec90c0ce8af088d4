// internal/state/session.go
package state

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Session is the persisted assistant-session record for one working
// directory.
type Session struct {
	WorkDir   string    `json:"work_dir"`
	SessionID string    `json:"session_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionStore persists the opaque assistant session identifier for a
// working directory. The file name embeds a short hash of the directory so
// relaunching the agent in the same place resumes the same conversation.
type SessionStore struct {
	dir     string
	workDir string
	mu      sync.Mutex
}

// NewSessionStore creates a store rooted at dir for the given working
// directory.
func NewSessionStore(dir, workDir string) *SessionStore {
	return &SessionStore{dir: dir, workDir: workDir}
}

// Path returns the session file path for this store's working directory.
func (s *SessionStore) Path() string {
	sum := md5.Sum([]byte(s.workDir))
	return filepath.Join(s.dir, fmt.Sprintf("session_%s.json", hex.EncodeToString(sum[:])[:12]))
}

// Load returns the persisted session id, or "" when none has been saved.
func (s *SessionStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read session file: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return "", fmt.Errorf("unmarshal session: %w", err)
	}
	return sess.SessionID, nil
}

// Save persists the session id, overwriting any prior one.
func (s *SessionStore) Save(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := Session{
		WorkDir:   s.workDir,
		SessionID: sessionID,
		UpdatedAt: time.Now(),
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	// Atomic write: write to temp file then rename
	path := s.Path()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp session file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp session file: %w", err)
	}
	return nil
}

// Clear removes the persisted session, if any.
func (s *SessionStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}
