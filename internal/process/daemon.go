// Package process controls the background scheduler process: it starts the
// loop detached from the terminal, tracks it through a pid file, and checks
// the live process command line before trusting a recorded pid.
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/aristath/gapfill/internal/utils"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

var (
	// ErrAlreadyRunning is returned when a live scheduler already owns the pid file.
	ErrAlreadyRunning = errors.New("scheduler is already running")
	// ErrNotRunning is returned when there is no live scheduler to stop.
	ErrNotRunning = errors.New("scheduler is not running")
)

const (
	defaultStopTimeout = 10 * time.Second
	defaultStartGrace  = 500 * time.Millisecond
	pollInterval       = 100 * time.Millisecond
)

// Controller manages the lifecycle of the background scheduler.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	IsRunning() (bool, error)
	Status() (Status, error)
}

// Info is the content of the pid file.
type Info struct {
	PID       int       `json:"pid"`
	Cmdline   string    `json:"cmdline"`
	StartedAt time.Time `json:"started_at"`
}

// Status describes what the pid file says and whether it still holds.
type Status struct {
	Running   bool       `json:"running"`
	PID       int        `json:"pid,omitempty"`
	Cmdline   string     `json:"cmdline,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Stale     bool       `json:"stale,omitempty"` // pid file present, process gone or replaced
}

// Daemon is the pid-file based Controller.
type Daemon struct {
	pidPath     string
	logPath     string
	executable  string
	args        []string
	stopTimeout time.Duration
	startGrace  time.Duration
	log         zerolog.Logger
}

var _ Controller = (*Daemon)(nil)

// NewDaemon creates a controller that launches the current executable with args.
func NewDaemon(pidPath, logPath string, args []string, log zerolog.Logger) *Daemon {
	return &Daemon{
		pidPath:     pidPath,
		logPath:     logPath,
		args:        args,
		stopTimeout: defaultStopTimeout,
		startGrace:  defaultStartGrace,
		log:         log.With().Str("component", "process").Logger(),
	}
}

// SetExecutable overrides the binary launched by Start.
func (d *Daemon) SetExecutable(path string) {
	d.executable = path
}

// SetStopTimeout sets how long Stop waits after SIGTERM before killing.
func (d *Daemon) SetStopTimeout(timeout time.Duration) {
	d.stopTimeout = timeout
}

// PIDPath returns the pid file location
func (d *Daemon) PIDPath() string {
	return d.pidPath
}

// Start launches the scheduler in the background.
func (d *Daemon) Start(ctx context.Context) error {
	running, err := d.IsRunning()
	if err != nil {
		return err
	}
	if running {
		return ErrAlreadyRunning
	}

	executable := d.executable
	if executable == "" {
		executable, err = os.Executable()
		if err != nil {
			return fmt.Errorf("failed to resolve executable: %w", err)
		}
	}

	logFile, err := os.OpenFile(d.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(executable, d.args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = detachedAttr()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	info := Info{
		PID:       cmd.Process.Pid,
		Cmdline:   strings.Join(cmd.Args, " "),
		StartedAt: time.Now(),
	}
	if err := d.writeInfo(info); err != nil {
		_ = cmd.Process.Kill()
		return err
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	select {
	case err := <-exited:
		_ = d.removeIfOwner(info.PID)
		if err == nil {
			err = errors.New("exited with status 0")
		}
		return fmt.Errorf("scheduler exited during startup (see %s): %w", d.logPath, err)
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.startGrace):
	}

	d.log.Info().
		Int("pid", info.PID).
		Str("log_file", d.logPath).
		Msg("Scheduler started in background")
	return nil
}

// Stop terminates the background scheduler, killing it if it does not exit in time.
func (d *Daemon) Stop(ctx context.Context) error {
	info, proc, err := d.live()
	if err != nil {
		return err
	}
	if proc == nil {
		if info != nil {
			d.log.Warn().Int("pid", info.PID).Msg("Removing stale pid file")
			_ = d.remove()
		}
		return ErrNotRunning
	}

	if err := proc.TerminateWithContext(ctx); err != nil {
		return fmt.Errorf("failed to signal pid %d: %w", info.PID, err)
	}

	if !waitExit(ctx, proc, d.stopTimeout) {
		d.log.Warn().Int("pid", info.PID).Dur("timeout", d.stopTimeout).Msg("Scheduler did not stop in time, killing")
		if err := proc.KillWithContext(ctx); err != nil {
			return fmt.Errorf("failed to kill pid %d: %w", info.PID, err)
		}
		waitExit(ctx, proc, d.stopTimeout)
	}

	_ = d.remove()
	d.log.Info().Int("pid", info.PID).Msg("Scheduler stopped")
	return nil
}

// Restart stops a running scheduler, if any, and starts a new one.
func (d *Daemon) Restart(ctx context.Context) error {
	if err := d.Stop(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	return d.Start(ctx)
}

// IsRunning reports whether the pid file names a live process with the recorded command line.
func (d *Daemon) IsRunning() (bool, error) {
	_, proc, err := d.live()
	if err != nil {
		return false, err
	}
	return proc != nil, nil
}

// Status reports the pid file content and its liveness.
func (d *Daemon) Status() (Status, error) {
	info, proc, err := d.live()
	if err != nil {
		return Status{}, err
	}
	if info == nil {
		return Status{}, nil
	}

	started := info.StartedAt
	return Status{
		Running:   proc != nil,
		PID:       info.PID,
		Cmdline:   info.Cmdline,
		StartedAt: &started,
		Stale:     proc == nil,
	}, nil
}

// Acquire claims the pid file for the current process. It fails with
// ErrAlreadyRunning when another live scheduler holds it.
func (d *Daemon) Acquire() error {
	info, proc, err := d.live()
	if err != nil {
		return err
	}
	pid := os.Getpid()
	if proc != nil && info.PID != pid {
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, info.PID)
	}

	cmdline, err := commandLine(pid)
	if err != nil {
		return err
	}

	startedAt := time.Now()
	if info != nil && info.PID == pid {
		startedAt = info.StartedAt
	}
	return d.writeInfo(Info{PID: pid, Cmdline: cmdline, StartedAt: startedAt})
}

// Release removes the pid file if the current process owns it.
func (d *Daemon) Release() error {
	return d.removeIfOwner(os.Getpid())
}

// live reads the pid file and returns the matching process, or a nil
// process when the recorded pid is gone or now runs something else.
func (d *Daemon) live() (*Info, *process.Process, error) {
	info, err := d.readInfo()
	if err != nil || info == nil {
		return nil, nil, err
	}

	proc, err := process.NewProcess(int32(info.PID))
	if err != nil {
		return info, nil, nil
	}
	cmdline, err := proc.Cmdline()
	if err != nil || cmdline != info.Cmdline {
		return info, nil, nil
	}
	return info, proc, nil
}

func (d *Daemon) readInfo() (*Info, error) {
	var info Info
	found, err := utils.ReadJSON(d.pidPath, &info)
	if err != nil && found {
		d.log.Warn().Err(err).Str("path", d.pidPath).Msg("Ignoring unreadable pid file")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pid file: %w", err)
	}
	if !found || info.PID <= 0 {
		return nil, nil
	}
	return &info, nil
}

func (d *Daemon) writeInfo(info Info) error {
	if err := utils.WriteJSONAtomic(d.pidPath, info); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}

func (d *Daemon) remove() error {
	if err := os.Remove(d.pidPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove pid file: %w", err)
	}
	return nil
}

func (d *Daemon) removeIfOwner(pid int) error {
	info, err := d.readInfo()
	if err != nil || info == nil || info.PID != pid {
		return err
	}
	return d.remove()
}

func commandLine(pid int) (string, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return "", fmt.Errorf("failed to inspect pid %d: %w", pid, err)
	}
	cmdline, err := proc.Cmdline()
	if err != nil {
		return "", fmt.Errorf("failed to read command line of pid %d: %w", pid, err)
	}
	return cmdline, nil
}

func waitExit(ctx context.Context, proc *process.Process, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		running, err := proc.IsRunningWithContext(ctx)
		if err != nil || !running {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(pollInterval):
		}
	}
	return false
}
