// Package dispatch hands routed tasks to the external agent runtime by
// spawning a session process per task.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/rs/zerolog/log"
)

var ErrNoAssignee = errors.New("task has no assignee")

const DefaultCommand = "openclaw sessions spawn"

type Dispatcher struct {
	command []string
	timeout time.Duration
	sem     chan struct{}
}

// New splits command shell-style. At most maxConcurrent spawns run at once;
// further callers wait for a slot or for their context.
func New(command string, maxConcurrent int, timeout time.Duration) (*Dispatcher, error) {
	argv, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parse dispatch command %q: %w", command, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("dispatch command is empty")
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Dispatcher{command: argv, timeout: timeout, sem: make(chan struct{}, maxConcurrent)}, nil
}

// Spawn runs `<command> --agent <agentID> --label <label>` and returns its
// standard output. A non-zero exit is reported with the process's stderr.
func (d *Dispatcher) Spawn(ctx context.Context, agentID, label string) (string, error) {
	if agentID == "" {
		return "", ErrNoAssignee
	}
	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-d.sem }()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	args := append(append([]string{}, d.command[1:]...), "--agent", agentID, "--label", label)
	cmd := exec.CommandContext(ctx, d.command[0], args...)
	cmd.WaitDelay = time.Second
	start := time.Now()
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("spawn error: %v; stderr=%s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("spawn %s: %w", d.command[0], err)
	}
	log.Debug().Str("agent_id", agentID).Str("label", label).Dur("took", time.Since(start)).Msg("agent session spawned")
	return string(out), nil
}
