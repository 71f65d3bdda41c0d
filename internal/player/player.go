package player

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Status is the lifecycle state of the player process.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
	StatusFailed  Status = "failed"
)

// Defaults for zero Config values.
const (
	DefaultGracefulTimeout = 5 * time.Second
	DefaultRestartDelay    = time.Second
	DefaultMaxRestartDelay = time.Minute
	DefaultMaxRestarts     = 5
	DefaultVolumeArg       = "--volume=%d"
)

// Config holds the player process settings.
type Config struct {
	// Binary is the player executable; the stream URL is passed as the last argument.
	Binary string
	Args   []string

	// VolumeArg is a format string with one %d verb, appended when a volume is set.
	VolumeArg string

	GracefulTimeout time.Duration
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// MaxRestarts bounds automatic restarts of one stream. Negative disables restarts.
	MaxRestarts int
}

// Logger defines the logging interface for the player.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// State is a snapshot of the player.
type State struct {
	Status    Status `json:"status"`
	URL       string `json:"url,omitempty"`
	Volume    *int   `json:"volume,omitempty"`
	PID       int    `json:"pid,omitempty"`
	Restarts  int    `json:"restarts"`
	LastError string `json:"lastError,omitempty"`
}

// Player supervises one player process.
//
// Thread Safety: All methods are safe for concurrent use.
type Player struct {
	cfg    Config
	logger Logger

	// opMu serialises Play and Stop.
	opMu sync.Mutex

	mu       sync.Mutex
	cmd      *exec.Cmd
	done     chan struct{}
	status   Status
	url      string
	volume   *int
	restarts int
	lastErr  error
	stopping bool
	retry    backoff.BackOff
}

// New creates a stopped player.
func New(cfg Config) *Player {
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = DefaultGracefulTimeout
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	if cfg.MaxRestartDelay <= 0 {
		cfg.MaxRestartDelay = DefaultMaxRestartDelay
	}
	if cfg.MaxRestarts == 0 {
		cfg.MaxRestarts = DefaultMaxRestarts
	}
	if cfg.VolumeArg == "" {
		cfg.VolumeArg = DefaultVolumeArg
	}

	return &Player{
		cfg:    cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the player.
func (p *Player) SetLogger(logger Logger) {
	p.logger = logger
}

// SetVolume records the volume used from the next Play onwards.
func (p *Player) SetVolume(level int) error {
	if level < 0 || level > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidVolume, level)
	}
	p.mu.Lock()
	p.volume = &level
	p.mu.Unlock()
	return nil
}

// Play stops the current stream, if any, and starts url.
func (p *Player) Play(ctx context.Context, url string) error {
	if p.cfg.Binary == "" {
		return ErrNoBinary
	}
	if url == "" {
		return ErrNoURL
	}

	p.opMu.Lock()
	defer p.opMu.Unlock()

	if err := p.stop(); err != nil {
		return err
	}

	p.mu.Lock()
	p.url = url
	p.restarts = 0
	p.lastErr = nil
	p.retry = p.newBackOff()
	p.mu.Unlock()

	return p.start(ctx)
}

func (p *Player) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.RestartDelay
	b.MaxInterval = p.cfg.MaxRestartDelay
	b.MaxElapsedTime = 0
	return b
}

// args returns the command line for the current stream. Callers hold mu.
func (p *Player) args() []string {
	args := append([]string(nil), p.cfg.Args...)
	if p.volume != nil {
		args = append(args, fmt.Sprintf(p.cfg.VolumeArg, *p.volume))
	}
	return append(args, p.url)
}

func (p *Player) start(ctx context.Context) error {
	p.mu.Lock()
	args := p.args()
	url := p.url
	p.mu.Unlock()

	cmd := exec.Command(p.cfg.Binary, args...) //nolint:gosec // binary comes from device config
	// Own process group so Stop reaches helpers the player forks.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return p.startFailed(fmt.Errorf("creating stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return p.startFailed(fmt.Errorf("creating stderr pipe: %w", err))
	}
	if err := cmd.Start(); err != nil {
		return p.startFailed(fmt.Errorf("starting %s: %w", p.cfg.Binary, err))
	}

	done := make(chan struct{})
	p.mu.Lock()
	p.cmd = cmd
	p.done = done
	p.status = StatusRunning
	p.stopping = false
	p.mu.Unlock()

	go p.captureOutput("stdout", stdout)
	go p.captureOutput("stderr", stderr)
	go p.monitor(ctx, cmd, done)

	p.logger.Info("player started", "url", url, "pid", cmd.Process.Pid)
	return nil
}

func (p *Player) startFailed(err error) error {
	p.mu.Lock()
	p.status = StatusFailed
	p.lastErr = err
	p.mu.Unlock()
	return err
}

// captureOutput logs player output line by line.
func (p *Player) captureOutput(stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.logger.Debug("player output", "stream", stream, "line", scanner.Text())
	}
}

// monitor waits for cmd to exit and restarts the stream if it died on its own.
func (p *Player) monitor(ctx context.Context, cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	close(done)

	p.mu.Lock()
	if p.cmd != cmd {
		p.mu.Unlock()
		return
	}
	if p.stopping {
		p.status = StatusStopped
		p.mu.Unlock()
		return
	}

	if err == nil {
		err = errors.New("player exited")
	}
	p.status = StatusFailed
	p.lastErr = err
	p.restarts++
	attempt := p.restarts
	delay := p.retry.NextBackOff()
	p.mu.Unlock()

	p.logger.Warn("player exited unexpectedly", "error", err, "attempt", attempt)

	if p.cfg.MaxRestarts < 0 || attempt > p.cfg.MaxRestarts {
		p.logger.Error("player restart budget exhausted", "restarts", attempt-1)
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	superseded := p.cmd != cmd || p.stopping
	p.mu.Unlock()
	if superseded {
		return
	}

	if err := p.start(ctx); err != nil {
		p.logger.Error("player restart failed", "error", err)
	}
}

// Stop ends the current stream. It is a no-op when nothing is playing.
func (p *Player) Stop() error {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return p.stop()
}

func (p *Player) stop() error {
	p.mu.Lock()
	p.stopping = true
	cmd, done, running := p.cmd, p.done, p.status == StatusRunning
	if !running {
		p.cmd = nil
		p.status = StatusStopped
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	pid := cmd.Process.Pid
	p.logger.Info("stopping player", "pid", pid)

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		p.logger.Warn("failed to send SIGTERM to player", "error", err)
	}

	select {
	case <-done:
	case <-time.After(p.cfg.GracefulTimeout):
		p.logger.Warn("player ignored SIGTERM, sending SIGKILL", "timeout", p.cfg.GracefulTimeout)
		if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			return fmt.Errorf("killing player: %w", err)
		}
		<-done
	}

	p.mu.Lock()
	p.cmd = nil
	p.status = StatusStopped
	p.mu.Unlock()
	return nil
}

// State returns a snapshot of the player.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := State{
		Status:   p.status,
		URL:      p.url,
		Restarts: p.restarts,
	}
	if p.volume != nil {
		v := *p.volume
		s.Volume = &v
	}
	if p.cmd != nil && p.cmd.Process != nil && p.status == StatusRunning {
		s.PID = p.cmd.Process.Pid
	}
	if p.lastErr != nil {
		s.LastError = p.lastErr.Error()
	}
	return s
}
