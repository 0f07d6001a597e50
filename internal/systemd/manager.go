package systemd

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// UnitStatus describes one managed service unit at a point in time. State
// fields are left empty when the probe for that unit failed; the unit itself
// is never dropped from the snapshot.
type UnitStatus struct {
	Unit          string `json:"unit"`
	ActiveState   string `json:"active_state"`
	SubState      string `json:"sub_state"`
	LoadState     string `json:"load_state"`
	UnitFileState string `json:"unit_file_state"`
	Description   string `json:"description"`
}

// ActionResult captures the outcome of one systemctl invocation.
type ActionResult struct {
	Code   int    `json:"code"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// OK reports whether systemctl exited cleanly.
func (r ActionResult) OK() bool {
	return r.Code == 0
}

// Runner executes an external command and returns its exit code and captured
// output. It exists so tests can substitute canned systemctl behaviour.
type Runner func(ctx context.Context, name string, args ...string) (int, string, string, error)

// JournalCommand builds the process used to follow a unit's journal.
type JournalCommand func(ctx context.Context, unit string, backlog int) *exec.Cmd

const defaultProbeLimit = 8

// Config configures a Manager.
type Config struct {
	// Dir is the directory scanned for managed .service units.
	Dir    string
	Logger *slog.Logger
	// Runner overrides the subprocess runner; nil uses exec.CommandContext.
	Runner Runner
	// ProbeLimit caps how many systemctl show probes run concurrently
	// during a snapshot. Zero applies a small default.
	ProbeLimit int
	// JournalCommand overrides the journal follower process; nil runs
	// journalctl -fu.
	JournalCommand JournalCommand
}

// Manager wraps the systemctl and journalctl collaborators for a single unit
// directory: discovery, status snapshots, lifecycle actions, and journal
// tailing.
type Manager struct {
	dir        string
	logger     *slog.Logger
	run        Runner
	probeLimit int
	journalCmd JournalCommand
}

// NewManager initialises a Manager using the provided configuration.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	run := cfg.Runner
	if run == nil {
		run = execRunner
	}
	limit := cfg.ProbeLimit
	if limit <= 0 {
		limit = defaultProbeLimit
	}
	journalCmd := cfg.JournalCommand
	if journalCmd == nil {
		journalCmd = defaultJournalCommand
	}
	return &Manager{
		dir:        cfg.Dir,
		logger:     logger,
		run:        run,
		probeLimit: limit,
		journalCmd: journalCmd,
	}
}

// Dir returns the managed unit directory.
func (m *Manager) Dir() string {
	return m.dir
}

// IsManaged reports whether the unit exists directly under the managed
// directory. Units outside the directory are invisible to the panel.
func (m *Manager) IsManaged(unit string) bool {
	_, ok := DiscoverUnits(m.dir)[unit]
	return ok
}

// Snapshot probes every managed unit concurrently and returns the statuses
// ordered by unit name. A unit whose probe fails keeps its slot with empty
// state fields; an unreadable unit directory yields an empty snapshot rather
// than an error.
func (m *Manager) Snapshot(ctx context.Context) ([]UnitStatus, error) {
	units := DiscoverUnits(m.dir)
	statuses := make([]UnitStatus, 0, len(units))
	if len(units) == 0 {
		return statuses, ctx.Err()
	}

	names := make([]string, 0, len(units))
	for name := range units {
		names = append(names, name)
	}
	sort.Strings(names)

	statuses = make([]UnitStatus, len(names))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(m.probeLimit)
	for i, name := range names {
		i, name := i, name
		group.Go(func() error {
			status, err := m.probe(groupCtx, name)
			if err != nil {
				return err
			}
			status.Description = readDescription(units[name])
			statuses[i] = status
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return statuses, nil
}

func (m *Manager) probe(ctx context.Context, unit string) (UnitStatus, error) {
	status := UnitStatus{Unit: unit}
	code, stdout, _, err := m.run(ctx, "systemctl",
		"show", unit, "--no-pager",
		"--property=ActiveState,SubState,LoadState,UnitFileState")
	if err != nil {
		if ctx.Err() != nil {
			return UnitStatus{}, ctx.Err()
		}
		m.logger.Debug("unit probe failed", "unit", unit, "error", err)
		return status, nil
	}
	if code != 0 {
		m.logger.Debug("unit probe exited non-zero", "unit", unit, "code", code)
		return status, nil
	}
	for _, line := range strings.Split(stdout, "\n") {
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		switch key {
		case "ActiveState":
			status.ActiveState = value
		case "SubState":
			status.SubState = value
		case "LoadState":
			status.LoadState = value
		case "UnitFileState":
			status.UnitFileState = value
		}
	}
	return status, nil
}

// Start runs systemctl start for the unit.
func (m *Manager) Start(ctx context.Context, unit string) (ActionResult, error) {
	return m.action(ctx, "start", unit)
}

// Stop runs systemctl stop for the unit.
func (m *Manager) Stop(ctx context.Context, unit string) (ActionResult, error) {
	return m.action(ctx, "stop", unit)
}

// Restart runs systemctl restart for the unit.
func (m *Manager) Restart(ctx context.Context, unit string) (ActionResult, error) {
	return m.action(ctx, "restart", unit)
}

func (m *Manager) action(ctx context.Context, verb, unit string) (ActionResult, error) {
	code, stdout, stderr, err := m.run(ctx, "systemctl", verb, unit)
	if err != nil {
		return ActionResult{}, err
	}
	return ActionResult{Code: code, Stdout: stdout, Stderr: stderr}, nil
}

func execRunner(ctx context.Context, name string, args ...string) (int, string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), stdout.String(), stderr.String(), nil
		}
		return 0, "", "", err
	}
	return 0, stdout.String(), stderr.String(), nil
}
