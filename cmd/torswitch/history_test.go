package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/torswitch/internal/database"
	"github.com/nao1215/torswitch/internal/tor"
)

// seedHistory stores two rotations of one session and one of another.
func seedHistory(t *testing.T, dir string) (string, string) {
	t.Helper()

	db := openHistory(t, dir)
	first, second := database.NewSessionID(), database.NewSessionID()
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	rotations := []database.Rotation{
		{
			SessionID: first, Instance: 1,
			StartedAt: start, FinishedAt: start.Add(12 * time.Second),
			Before: "198.51.100.1", After: "198.51.100.2",
			Outcome: tor.StateSucceeded.String(), ProxiesUsed: 2,
		},
		{
			SessionID: first, Instance: 1,
			StartedAt: start.Add(time.Minute), FinishedAt: start.Add(2 * time.Minute),
			Before:  "198.51.100.2",
			Outcome: tor.StateTimedOut.String(), Error: "change exit node (polling for change): failed to change the exit node",
			ProxiesUsed: 2,
		},
		{
			SessionID: second, Instance: 1,
			StartedAt: start.Add(time.Hour), FinishedAt: start.Add(time.Hour + time.Second),
			Outcome: tor.StateFailed.String(), Error: "change exit node (authenticating): 515 Authentication failed",
			ProxiesUsed: 1,
		},
	}
	for i := range rotations {
		if _, err := db.InsertRotation(context.Background(), &rotations[i]); err != nil {
			t.Fatalf("InsertRotation() error = %v", err)
		}
	}
	return first, second
}

func TestNewHistoryCmd(t *testing.T) {
	t.Parallel()

	cmd := NewHistoryCmd()

	tests := []struct {
		name      string
		shorthand string
		defValue  string
	}{
		{name: "limit", shorthand: "l", defValue: "20"},
		{name: "session", defValue: ""},
		{name: "errors", shorthand: "E", defValue: "false"},
		{name: "json", shorthand: "j", defValue: "false"},
		{name: "markdown", shorthand: "m", defValue: "false"},
		{name: "output", shorthand: "o", defValue: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			flag := cmd.Flags().Lookup(tt.name)
			if flag == nil {
				t.Fatalf("expected %s flag", tt.name)
			}
			if flag.Shorthand != tt.shorthand {
				t.Errorf("expected shorthand %q, got %q", tt.shorthand, flag.Shorthand)
			}
			if flag.DefValue != tt.defValue {
				t.Errorf("expected default %q, got %q", tt.defValue, flag.DefValue)
			}
		})
	}
}

func TestRunHistoryCmd(t *testing.T) {
	t.Parallel()

	t.Run("json lists newest first", func(t *testing.T) {
		t.Parallel()

		f := newTorFixture(t, false)
		seedHistory(t, f.dbDir)

		stdout, _, err := execute(t, f.args("history", "--json")...)
		if err != nil {
			t.Fatalf("history error = %v", err)
		}

		var doc struct {
			Total     int            `json:"total"`
			Outcomes  map[string]int `json:"outcomes"`
			Rotations []struct {
				Outcome string `json:"outcome"`
				Before  string `json:"before"`
			} `json:"rotations"`
		}
		if err := json.Unmarshal([]byte(stdout), &doc); err != nil {
			t.Fatalf("invalid JSON: %v\n%s", err, stdout)
		}
		if doc.Total != 3 {
			t.Errorf("total = %d, want 3", doc.Total)
		}
		if doc.Outcomes[tor.StateSucceeded.String()] != 1 {
			t.Errorf("outcomes = %v", doc.Outcomes)
		}
		if len(doc.Rotations) != 3 {
			t.Fatalf("listed %d rotations, want 3", len(doc.Rotations))
		}
		if doc.Rotations[0].Outcome != tor.StateFailed.String() {
			t.Errorf("first rotation outcome = %q, want the newest (failed)", doc.Rotations[0].Outcome)
		}
	})

	t.Run("limit and session filter", func(t *testing.T) {
		t.Parallel()

		f := newTorFixture(t, false)
		first, _ := seedHistory(t, f.dbDir)

		stdout, _, err := execute(t, f.args("history", "--json", "-l", "1")...)
		if err != nil {
			t.Fatalf("history error = %v", err)
		}
		if got := strings.Count(stdout, `"sessionId"`); got != 1 {
			t.Errorf("listed %d rotations with -l 1, want 1", got)
		}

		stdout, _, err = execute(t, f.args("history", "--json", "--session", first)...)
		if err != nil {
			t.Fatalf("history error = %v", err)
		}
		if got := strings.Count(stdout, first); got != 2 {
			t.Errorf("listed %d rotations of session, want 2", got)
		}
	})

	t.Run("text report", func(t *testing.T) {
		t.Parallel()

		f := newTorFixture(t, false)
		seedHistory(t, f.dbDir)

		stdout, _, err := execute(t, f.args("history", "-E")...)
		if err != nil {
			t.Fatalf("history error = %v", err)
		}
		for _, want := range []string{"TORSWITCH ROTATION HISTORY", "198.51.100.2", "515 Authentication failed"} {
			if !strings.Contains(stdout, want) {
				t.Errorf("expected %q in output:\n%s", want, stdout)
			}
		}
	})

	t.Run("markdown to file", func(t *testing.T) {
		t.Parallel()

		f := newTorFixture(t, false)
		seedHistory(t, f.dbDir)
		out := filepath.Join(t.TempDir(), "reports", "history.md")

		_, stderr, err := execute(t, f.args("history", "-m", "-o", out)...)
		if err != nil {
			t.Fatalf("history error = %v", err)
		}
		if !strings.Contains(stderr, out) {
			t.Errorf("expected the report path on stderr:\n%s", stderr)
		}

		content, err := os.ReadFile(out) //nolint:gosec // test file
		if err != nil {
			t.Fatalf("failed to read report: %v", err)
		}
		for _, want := range []string{"Torswitch Rotation History", "mermaid"} {
			if !strings.Contains(string(content), want) {
				t.Errorf("expected %q in report:\n%s", want, content)
			}
		}
	})

	t.Run("empty history", func(t *testing.T) {
		t.Parallel()

		f := newTorFixture(t, false)
		stdout, _, err := execute(t, f.args("history", "--json")...)
		if err != nil {
			t.Fatalf("history error = %v", err)
		}
		if !strings.Contains(stdout, `"total": 0`) {
			t.Errorf("unexpected output:\n%s", stdout)
		}
	})

	t.Run("json and markdown are exclusive", func(t *testing.T) {
		t.Parallel()

		f := newTorFixture(t, false)
		if _, _, err := execute(t, f.args("history", "--json", "--markdown")...); err == nil {
			t.Error("expected error for --json with --markdown")
		}
	})

	t.Run("negative limit", func(t *testing.T) {
		t.Parallel()

		f := newTorFixture(t, false)
		if _, _, err := execute(t, f.args("history", "--limit=-1")...); err == nil {
			t.Error("expected error for a negative limit")
		}
	})
}
