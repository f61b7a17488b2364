// Package syncq is the CLI's offline write queue: mutating requests that
// could not reach the server are kept on disk with their idempotency key
// and replayed later.
package syncq

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Command struct {
	Method         string         `json:"method"`
	Path           string         `json:"path"`
	Body           map[string]any `json:"body,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
	QueuedAt       time.Time      `json:"queued_at"`
}

func queuePath() (string, error) {
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
	return filepath.Join(dir, "queue.json"), nil
}

func Load() ([]Command, error) {
	path, err := queuePath()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Command{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Command{}, nil
	}
	var out []Command
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func Save(commands []Command) error {
	path, err := queuePath()
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func Push(cmd Command) error {
	commands, err := Load()
	if err != nil {
		return err
	}
	if cmd.QueuedAt.IsZero() {
		cmd.QueuedAt = time.Now().UTC()
	}
	commands = append(commands, cmd)
	return Save(commands)
}

// Replayer sends one queued command.
type Replayer func(cmd Command) error

// Replay sends every queued command in order, keeps the ones that fail
// and returns how many went through.
func Replay(send Replayer) (replayed int, remaining []Command, err error) {
	queue, err := Load()
	if err != nil {
		return 0, nil, err
	}
	remaining = make([]Command, 0, len(queue))
	for _, q := range queue {
		if err := send(q); err != nil {
			remaining = append(remaining, q)
			continue
		}
		replayed++
	}
	if err := Save(remaining); err != nil {
		return replayed, remaining, err
	}
	return replayed, remaining, nil
}
