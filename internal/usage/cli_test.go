package usage

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/crhistian-cornejo/quotebar/internal/models"
)

func TestCLIStrategyAvailable(t *testing.T) {
	s := &CLIStrategy{
		Binary:   "some-cli",
		lookPath: func(name string) (string, error) { return "/usr/bin/" + name, nil },
	}
	if !s.Available() {
		t.Error("Available() = false with binary on PATH")
	}

	s.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	if s.Available() {
		t.Error("Available() = true with binary missing from PATH")
	}

	if s.Name() != "cli" {
		t.Errorf("Name() = %q, want cli", s.Name())
	}
	s.Prio = 3
	if s.Priority() != 3 {
		t.Errorf("Priority() = %d, want 3", s.Priority())
	}
}

func TestCLIStrategyFetchParsesOutput(t *testing.T) {
	requireBinary(t, "echo")

	s := &CLIStrategy{
		Binary: "echo",
		Args:   []string{"82.5"},
		Parse: func(output []byte) (*models.UsageSnapshot, error) {
			if !bytes.Equal(bytes.TrimSpace(output), []byte("82.5")) {
				return nil, errors.New("unexpected output")
			}
			return &models.UsageSnapshot{
				Primary: &models.RateWindow{UsedPercent: 82.5},
			}, nil
		},
	}

	snap, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if snap.Primary.UsedPercent != 82.5 {
		t.Errorf("UsedPercent = %v, want 82.5", snap.Primary.UsedPercent)
	}
}

func TestCLIStrategyFetchTimesOut(t *testing.T) {
	requireBinary(t, "sleep")

	s := &CLIStrategy{
		Binary:  "sleep",
		Args:    []string{"30"},
		Timeout: 200 * time.Millisecond,
		Parse: func([]byte) (*models.UsageSnapshot, error) {
			t.Error("Parse called after timeout")
			return nil, nil
		},
	}

	start := time.Now()
	_, err := s.Fetch(context.Background())
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error = %q, want a timed out message", err)
	}
	// The subprocess must be killed at the deadline, not waited out.
	if elapsed > 2*time.Second {
		t.Errorf("Fetch returned after %s, want prompt termination", elapsed)
	}
}

func TestCLIStrategyFetchReportsStderr(t *testing.T) {
	requireBinary(t, "sh")

	s := &CLIStrategy{
		Binary: "sh",
		Args:   []string{"-c", "echo not logged in >&2; exit 1"},
		Parse: func([]byte) (*models.UsageSnapshot, error) {
			t.Error("Parse called for a failed command")
			return nil, nil
		},
	}

	_, err := s.Fetch(context.Background())
	if err == nil {
		t.Fatal("expected error from failing command")
	}
	if !strings.Contains(err.Error(), "not logged in") {
		t.Errorf("error = %q, want stderr content surfaced", err)
	}
}

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not on PATH", name)
	}
}
