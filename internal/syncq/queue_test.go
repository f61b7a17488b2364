package syncq

import (
	"errors"
	"testing"
)

func TestPushLoadReplay(t *testing.T) {
	t.Setenv("IDLEFORGE_HOME", t.TempDir())

	empty, err := Load()
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty queue got %v %v", empty, err)
	}
	for _, key := range []string{"a", "b", "c"} {
		if err := Push(Command{Method: "POST", Path: "/v1/players/p/click", IdempotencyKey: key}); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	queued, _ := Load()
	if len(queued) != 3 || queued[0].QueuedAt.IsZero() {
		t.Fatalf("unexpected queue %+v", queued)
	}

	replayed, remaining, err := Replay(func(cmd Command) error {
		if cmd.IdempotencyKey == "b" {
			return errors.New("offline")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replayed != 2 || len(remaining) != 1 || remaining[0].IdempotencyKey != "b" {
		t.Fatalf("replayed=%d remaining=%+v", replayed, remaining)
	}
	left, _ := Load()
	if len(left) != 1 || left[0].IdempotencyKey != "b" {
		t.Fatalf("failed command not kept: %+v", left)
	}
}
