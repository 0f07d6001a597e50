package systemd

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
)

// DefaultJournalBacklog is the number of historical lines included when a
// journal follow starts.
const DefaultJournalBacklog = 200

func defaultJournalCommand(ctx context.Context, unit string, backlog int) *exec.Cmd {
	return exec.CommandContext(ctx, "journalctl",
		"-fu", unit,
		"-n", strconv.Itoa(backlog),
		"-o", "short-iso")
}

// FollowJournal starts a journal follower for the unit and returns a channel
// of text lines. The channel is closed when the process exits or the context
// is cancelled; cancelling the context terminates the process.
func (m *Manager) FollowJournal(ctx context.Context, unit string, backlog int) (<-chan string, error) {
	if backlog <= 0 {
		backlog = DefaultJournalBacklog
	}
	cmd := m.journalCmd(ctx, unit, backlog)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("journal stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start journal follower: %w", err)
	}

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				// The consumer is gone; CommandContext kills the
				// process, we just reap it.
				_ = cmd.Wait()
				return
			}
		}
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			m.logger.Debug("journal follower exited", "unit", unit, "error", err)
		}
	}()
	return lines, nil
}
