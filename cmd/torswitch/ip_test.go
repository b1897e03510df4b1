package main

import (
	"strings"
	"testing"
)

func TestRunIPCmd(t *testing.T) {
	t.Parallel()

	t.Run("probes through the socks port", func(t *testing.T) {
		t.Parallel()

		f := newTorFixture(t, true)
		stdout, _, err := execute(t, f.args("ip")...)
		if err != nil {
			t.Fatalf("ip error = %v", err)
		}
		if got := strings.TrimSpace(stdout); got != "198.51.100.1" {
			t.Errorf("ip = %q, want 198.51.100.1", got)
		}
		if f.socks.Connects() != 1 {
			t.Errorf("SOCKS connects = %d, want 1", f.socks.Connects())
		}
	})

	t.Run("rejects arguments", func(t *testing.T) {
		t.Parallel()

		if _, _, err := execute(t, "ip", "extra"); err == nil {
			t.Error("expected error for unexpected argument")
		}
	})

	t.Run("rejects an invalid probe url", func(t *testing.T) {
		t.Parallel()

		f := newTorFixture(t, true)
		args := append(f.args("ip"), "--probe-url", "ftp://example.com")
		_, _, err := execute(t, args...)
		if err == nil || !strings.Contains(err.Error(), "configuration error") {
			t.Errorf("expected configuration error, got %v", err)
		}
	})
}
