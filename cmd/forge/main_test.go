package main

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	cl "idleforge/internal/cli"
	"idleforge/internal/syncq"
)

func TestQueueOnNetworkError(t *testing.T) {
	t.Setenv("IDLEFORGE_HOME", t.TempDir())

	apiErr := &cl.APIError{Status: 400, Message: "insufficient funds"}
	if err := queueOnNetworkError(apiErr, syncq.Command{Method: "POST", Path: "/x"}); !errors.Is(err, apiErr) {
		t.Fatalf("api errors must surface, got %v", err)
	}
	if err := queueOnNetworkError(errors.New("connection refused"), syncq.Command{
		Method:         "POST",
		Path:           playerPath("alice", "click") + "?times=3",
		IdempotencyKey: "k1",
	}); err != nil {
		t.Fatalf("transport error should queue: %v", err)
	}
	queue, err := syncq.Load()
	if err != nil {
		t.Fatalf("load queue: %v", err)
	}
	if len(queue) != 1 || queue[0].Path != "/v1/players/alice/click?times=3" || queue[0].IdempotencyKey != "k1" {
		t.Fatalf("unexpected queue %+v", queue)
	}
}

func TestFormatting(t *testing.T) {
	if got := formatCoins(decimal.RequireFromString("1234.5")); got != "1,234.50" {
		t.Fatalf("formatCoins: %q", got)
	}
	if got := truncate("forge_works_deluxe", 10); got != "forge_w..." {
		t.Fatalf("truncate: %q", got)
	}
	if got := playerPath("a b", "upgrades", "pickaxe", "buy"); got != "/v1/players/a%20b/upgrades/pickaxe/buy" {
		t.Fatalf("playerPath: %q", got)
	}
}
