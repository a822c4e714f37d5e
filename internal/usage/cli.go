package usage

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/crhistian-cornejo/quotebar/internal/models"
)

// DefaultCLITimeout is the hard wall-clock limit on subprocess calls.
const DefaultCLITimeout = 2 * time.Second

// CLIStrategy obtains usage data by invoking a local command-line tool and
// parsing its stdout. The subprocess is forcibly terminated on timeout.
type CLIStrategy struct {
	Binary   string
	Args     []string
	Prio     int
	Timeout  time.Duration
	Parse    func(output []byte) (*models.UsageSnapshot, error)
	lookPath func(string) (string, error)
}

// Name implements Strategy.
func (s *CLIStrategy) Name() string { return "cli" }

// Priority implements Strategy.
func (s *CLIStrategy) Priority() int { return s.Prio }

// Available reports whether the binary is on PATH. No subprocess is spawned.
func (s *CLIStrategy) Available() bool {
	look := s.lookPath
	if look == nil {
		look = exec.LookPath
	}
	_, err := look(s.Binary)
	return err == nil
}

// Fetch runs the CLI under the configured timeout and parses its output.
func (s *CLIStrategy) Fetch(ctx context.Context) (*models.UsageSnapshot, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultCLITimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.Binary, s.Args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%s timed out after %s", s.Binary, timeout)
		}
		msg := bytes.TrimSpace(stderr.Bytes())
		if len(msg) > 0 {
			return nil, fmt.Errorf("%s failed: %s", s.Binary, msg)
		}
		return nil, fmt.Errorf("%s failed: %w", s.Binary, err)
	}

	return s.Parse(stdout.Bytes())
}
