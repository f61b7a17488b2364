package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalSession remembers which player this machine plays as and the last
// server session it opened.
type LocalSession struct {
	PlayerID  string    `json:"player_id"`
	SessionID string    `json:"session_id,omitempty"`
	OpenedAt  time.Time `json:"opened_at,omitempty"`
}

// BaseDir is IDLEFORGE_HOME, or ~/.forge when unset.
func BaseDir() (string, error) {
	dir := strings.TrimSpace(os.Getenv("IDLEFORGE_HOME"))
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".forge")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func sessionPath() (string, error) {
	dir, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "session.json"), nil
}

func SaveSession(s LocalSession) error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, body, 0o600)
}

func LoadSession() (LocalSession, error) {
	path, err := sessionPath()
	if err != nil {
		return LocalSession{}, err
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return LocalSession{}, err
	}
	var s LocalSession
	if err := json.Unmarshal(body, &s); err != nil {
		return LocalSession{}, err
	}
	if strings.TrimSpace(s.PlayerID) == "" {
		return LocalSession{}, fmt.Errorf("no player found in session")
	}
	return s, nil
}

func ClearSession() error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return os.Remove(path)
}
