package tunnel

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"os/exec"
	"regexp"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"

	"github.com/homedav/internal/models"
)

// urlPattern matches a well-formed public URL in relay output.
var urlPattern = regexp.MustCompile(`https://[A-Za-z0-9][A-Za-z0-9.\-]*[A-Za-z0-9](?::\d+)?(?:/[^\s"']*)?`)

// defaultBinaries are tried in order when no binary is configured.
var defaultBinaries = []string{"cloudflared", "lt"}

// Config controls the relay subprocess lifecycle.
type Config struct {
	Binary         string
	Args           []string
	StartupTimeout time.Duration
	ProbeTimeout   time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	RestartCap     int
	RestartWindow  time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.StartupTimeout <= 0 {
		out.StartupTimeout = 10 * time.Second
	}
	if out.ProbeTimeout <= 0 {
		out.ProbeTimeout = 5 * time.Second
	}
	if out.BackoffBase <= 0 {
		out.BackoffBase = time.Second
	}
	if out.BackoffMax <= 0 {
		out.BackoffMax = 30 * time.Second
	}
	if out.RestartCap <= 0 {
		out.RestartCap = 5
	}
	if out.RestartWindow <= 0 {
		out.RestartWindow = 2 * time.Minute
	}
	return out
}

// Supervisor manages the public relay subprocess as an explicit state
// machine: stopped -> starting -> active, restart with backoff on
// unexpected exit, circuit break to failed once restarts pile up inside
// the rolling window.
type Supervisor struct {
	cfg Config
	log *logrus.Logger

	// injectable for tests
	probe    func(ctx context.Context, url string) error
	lookPath func(name string) (string, error)

	mu           sync.Mutex
	state        string
	publicURL    string
	lastError    string
	desired      bool
	gen          int
	cmd          *exec.Cmd
	startupTimer *time.Timer
	restartTimer *time.Timer
	restarts     []time.Time
	bo           *backoff.ExponentialBackOff
}

// New creates a stopped supervisor.
func New(cfg Config, log *logrus.Logger) *Supervisor {
	c := cfg.withDefaults()
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.BackoffBase
	bo.MaxInterval = c.BackoffMax
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	return &Supervisor{
		cfg:      c,
		log:      log,
		probe:    probeURL,
		lookPath: exec.LookPath,
		state:    models.TunnelStopped,
		bo:       bo,
	}
}

// Start brings the tunnel up. If it is already starting or active this
// is a no-op returning the current status. An explicit Start resets the
// circuit breaker.
func (s *Supervisor) Start() (models.TunnelStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case models.TunnelStarting, models.TunnelActive, models.TunnelRestarting:
		return s.statusLocked(), nil
	}

	s.desired = true
	s.restarts = nil
	s.lastError = ""
	s.bo.Reset()

	if err := s.launchLocked(); err != nil {
		s.state = models.TunnelFailed
		s.desired = false
		s.lastError = err.Error()
		return s.statusLocked(), err
	}
	return s.statusLocked(), nil
}

// Stop tears the tunnel down: desired-state off, pending timers
// cancelled, subprocess killed. It reports stopped regardless of the
// prior state.
func (s *Supervisor) Stop() models.TunnelStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.desired = false
	s.clearTimersLocked()

	if s.cmd != nil && s.cmd.Process != nil {
		s.state = models.TunnelStopping
		if err := s.cmd.Process.Kill(); err != nil {
			s.log.WithError(err).Debug("kill relay subprocess")
		}
	}
	s.state = models.TunnelStopped
	s.publicURL = ""
	s.log.Info("tunnel stopped")
	return s.statusLocked()
}

// Status is a pure read of the current state, it never blocks on the
// subprocess.
func (s *Supervisor) Status() models.TunnelStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Supervisor) statusLocked() models.TunnelStatus {
	return models.TunnelStatus{
		Status:    s.state,
		PublicURL: s.publicURL,
		LastError: s.lastError,
		Restarts:  len(s.restarts),
	}
}

// launchLocked resolves and spawns the relay binary, arms the startup
// watchdog and wires the output scanners. Callers hold s.mu.
func (s *Supervisor) launchLocked() error {
	bin, err := s.resolveBinary()
	if err != nil {
		return err
	}

	cmd := exec.Command(bin, s.cfg.Args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		// Spawn failures are transient: retried with backoff like an
		// unexpected exit.
		s.scheduleRestartLocked(err.Error())
		return nil
	}

	s.gen++
	gen := s.gen
	s.cmd = cmd
	s.state = models.TunnelStarting
	s.publicURL = ""

	s.startupTimer = time.AfterFunc(s.cfg.StartupTimeout, func() {
		s.onStartupTimeout(gen)
	})

	go s.scanOutput(gen, stdout)
	go s.scanOutput(gen, stderr)
	go s.monitor(gen, cmd)

	s.log.WithField("binary", bin).Info("relay subprocess started")
	return nil
}

func (s *Supervisor) resolveBinary() (string, error) {
	if s.cfg.Binary != "" {
		path, err := s.lookPath(s.cfg.Binary)
		if err != nil {
			return "", ErrBinaryUnavailable
		}
		return path, nil
	}
	for _, name := range defaultBinaries {
		if path, err := s.lookPath(name); err == nil {
			return path, nil
		}
	}
	return "", ErrBinaryUnavailable
}

// scanOutput watches one subprocess stream for a public URL candidate.
func (s *Supervisor) scanOutput(gen int, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if url := urlPattern.FindString(scanner.Text()); url != "" {
			go s.probeAndActivate(gen, url)
		}
	}
}

// probeAndActivate verifies a candidate URL out-of-band before trusting
// it. An unreachable URL is ignored, not surfaced.
func (s *Supervisor) probeAndActivate(gen int, url string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ProbeTimeout)
	defer cancel()
	if err := s.probe(ctx, url); err != nil {
		s.log.WithError(err).WithField("url", url).Debug("tunnel url probe failed")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state != models.TunnelStarting {
		return
	}
	s.state = models.TunnelActive
	s.publicURL = url
	s.lastError = ""
	if s.startupTimer != nil {
		s.startupTimer.Stop()
		s.startupTimer = nil
	}
	s.log.WithField("url", url).Info("tunnel active")
}

func (s *Supervisor) onStartupTimeout(gen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state != models.TunnelStarting {
		return
	}
	s.state = models.TunnelFailed
	s.desired = false
	s.lastError = "no public url within startup timeout"
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	s.log.Warn("tunnel startup timed out")
}

// monitor waits for subprocess exit and decides between clean shutdown
// and a backoff restart.
func (s *Supervisor) monitor(gen int, cmd *exec.Cmd) {
	err := cmd.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.cmd = nil
	s.publicURL = ""

	if !s.desired {
		if s.state == models.TunnelStopping {
			s.state = models.TunnelStopped
		}
		return
	}

	cause := "relay subprocess exited"
	if err != nil {
		cause = err.Error()
	}
	s.scheduleRestartLocked(cause)
}

// scheduleRestartLocked records a restart attempt in the rolling window
// and either arms the backoff timer or trips the circuit breaker.
// Callers hold s.mu.
func (s *Supervisor) scheduleRestartLocked(cause string) {
	now := time.Now()
	s.restarts = append(s.restarts, now)
	pruned := s.restarts[:0]
	for _, t := range s.restarts {
		if now.Sub(t) <= s.cfg.RestartWindow {
			pruned = append(pruned, t)
		}
	}
	s.restarts = pruned

	if len(s.restarts) > s.cfg.RestartCap {
		s.state = models.TunnelFailed
		s.desired = false
		s.lastError = "tunnel keeps failing: " + cause
		s.clearTimersLocked()
		s.log.WithField("attempts", len(s.restarts)).Warn("tunnel circuit breaker tripped")
		return
	}

	s.state = models.TunnelRestarting
	s.lastError = cause
	delay := s.bo.NextBackOff()
	if delay == backoff.Stop {
		delay = s.cfg.BackoffMax
	}
	s.restartTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.desired || s.state != models.TunnelRestarting {
			return
		}
		if err := s.launchLocked(); err != nil {
			s.state = models.TunnelFailed
			s.desired = false
			s.lastError = err.Error()
		}
	})

	s.log.WithFields(logrus.Fields{
		"cause": cause,
		"delay": delay,
	}).Info("tunnel restart scheduled")
}

// clearTimersLocked cancels the watchdog and backoff timers. Every
// terminal transition must go through here so no timer dangles.
func (s *Supervisor) clearTimersLocked() {
	if s.startupTimer != nil {
		s.startupTimer.Stop()
		s.startupTimer = nil
	}
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
}

// probeURL is the default out-of-band liveness probe: any HTTP response
// counts as reachable, only transport failures reject the URL.
func probeURL(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Error definitions.
var (
	ErrBinaryUnavailable = Error("tunnel binary is not available on this platform")
)

type Error string

func (e Error) Error() string {
	return string(e)
}
