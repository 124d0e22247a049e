package supervisor

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// WorkerFunc is a long-running task. It returns nil on a clean exit and an
// error when it should be restarted under the policy.
type WorkerFunc func(ctx context.Context) error

// Policy governs how a failed worker is restarted. The zero value takes the
// defaults; the application builds one policy from configuration and shares
// it across the pipeline's workers.
type Policy struct {
	MaxRetries     int           // 0 = retry forever
	InitialBackoff time.Duration // default 5s
	MaxBackoff     time.Duration // default 60s
	BackoffFactor  float64       // default 2.0
	StuckAfter     time.Duration // health-report threshold, default 5m
	HealthInterval time.Duration // summary log cadence, default 30s
}

func (p Policy) withDefaults() Policy {
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 5 * time.Second
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 60 * time.Second
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = 2.0
	}
	if p.StuckAfter <= 0 {
		p.StuckAfter = 5 * time.Minute
	}
	if p.HealthInterval <= 0 {
		p.HealthInterval = 30 * time.Second
	}
	return p
}

// backoffFor returns the delay before restart attempt n (1-based), growing
// geometrically from InitialBackoff and capped at MaxBackoff, with up to 10%
// jitter so restarting workers do not thunder in step.
func (p Policy) backoffFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := float64(p.InitialBackoff) * math.Pow(p.BackoffFactor, float64(attempt-1))
	if backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}
	jitter := 1 + 0.1*rand.Float64()
	return time.Duration(backoff * jitter)
}

// WorkerState is the lifecycle position of one worker.
type WorkerState string

const (
	StateIdle    WorkerState = "idle"
	StateRunning WorkerState = "running"
	StateBackoff WorkerState = "backoff"
	StateFailed  WorkerState = "failed"
	StateStopped WorkerState = "stopped"
)

type worker struct {
	name      string
	component string
	fn        WorkerFunc
	policy    Policy

	mu        sync.Mutex
	state     WorkerState
	restarts  int
	lastError error
	startedAt time.Time
}

func (w *worker) setState(state WorkerState) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
}

// WorkerSnapshot is one worker's row in the monitoring surface.
type WorkerSnapshot struct {
	Name      string      `json:"name"`
	Component string      `json:"component"`
	State     WorkerState `json:"state"`
	Restarts  int         `json:"restarts"`
	Uptime    string      `json:"uptime,omitempty"`
	LastError string      `json:"last_error,omitempty"`
}

// Snapshot is the supervisor's monitoring surface, served on /stats.
type Snapshot struct {
	Running   bool             `json:"running"`
	StartedAt time.Time        `json:"started_at"`
	Workers   []WorkerSnapshot `json:"workers"`
	Unhealthy int              `json:"unhealthy"`
}

// Supervisor owns the pipeline's long-running loops: the rate-window pruner,
// cache evictor, in-flight watchdog, snapshot writer, and the scheduled
// validation and mining passes. Failed workers restart under the shared
// policy; everything winds down together when the parent context cancels.
type Supervisor struct {
	logger *zap.Logger
	policy Policy

	mu      sync.Mutex
	workers []*worker
	byName  map[string]*worker
	running bool

	startedAt time.Time
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

// New creates a supervisor with the application's restart policy.
func New(policy Policy, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		logger: logger.Named("supervisor"),
		policy: policy.withDefaults(),
		byName: make(map[string]*worker),
	}
}

// Add registers a worker under the supervisor's shared policy.
func (s *Supervisor) Add(name, component string, fn WorkerFunc) error {
	return s.AddWithPolicy(name, component, s.policy, fn)
}

// AddWithPolicy registers a worker with its own restart policy.
func (s *Supervisor) AddWithPolicy(name, component string, policy Policy, fn WorkerFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("cannot add worker %s while supervisor is running", name)
	}
	if _, exists := s.byName[name]; exists {
		return fmt.Errorf("worker %s already registered", name)
	}

	w := &worker{
		name:      name,
		component: component,
		fn:        fn,
		policy:    policy.withDefaults(),
		state:     StateIdle,
	}
	s.workers = append(s.workers, w)
	s.byName[name] = w

	s.logger.Info("Worker registered",
		zap.String("worker", name),
		zap.String("component", component))
	return nil
}

// Start launches every registered worker under a context derived from ctx.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("supervisor already started")
	}
	s.running = true
	s.startedAt = time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.logger.Info("Supervisor starting", zap.Int("workers", len(s.workers)))

	for _, w := range s.workers {
		s.wg.Add(1)
		go s.supervise(runCtx, w)
	}

	s.wg.Add(1)
	go s.healthLoop(runCtx)

	return nil
}

// supervise runs one worker to completion, restarting it on failure until the
// policy's retry budget is exhausted or the context cancels.
func (s *Supervisor) supervise(ctx context.Context, w *worker) {
	defer s.wg.Done()

	logger := s.logger.With(
		zap.String("worker", w.name),
		zap.String("component", w.component))

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			w.setState(StateStopped)
			return
		}

		w.mu.Lock()
		w.state = StateRunning
		w.startedAt = time.Now()
		w.restarts = attempt
		w.mu.Unlock()

		if attempt > 0 {
			logger.Info("Worker restarting", zap.Int("attempt", attempt))
		}

		err := runGuarded(ctx, w.fn)

		if err == nil || ctx.Err() != nil {
			w.setState(StateStopped)
			logger.Info("Worker stopped")
			return
		}

		w.mu.Lock()
		w.lastError = err
		w.mu.Unlock()

		if w.policy.MaxRetries > 0 && attempt+1 >= w.policy.MaxRetries {
			w.setState(StateFailed)
			logger.Error("Worker failed permanently",
				zap.Int("attempts", attempt+1),
				zap.Error(err))
			return
		}

		backoff := w.policy.backoffFor(attempt + 1)
		w.setState(StateBackoff)
		logger.Warn("Worker failed, backing off",
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			w.setState(StateStopped)
			return
		case <-time.After(backoff):
		}
	}
}

// runGuarded invokes the worker and converts a panic into an ordinary error
// so the restart policy applies to it.
func runGuarded(ctx context.Context, fn WorkerFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// healthLoop periodically logs a one-line fleet summary and flags workers
// that have been in backoff or running suspiciously long.
func (s *Supervisor) healthLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.policy.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := s.Snapshot()
			if snap.Unhealthy > 0 {
				s.logger.Warn("Worker health degraded",
					zap.Int("total", len(snap.Workers)),
					zap.Int("unhealthy", snap.Unhealthy))
			} else {
				s.logger.Debug("Worker health nominal",
					zap.Int("total", len(snap.Workers)))
			}
		}
	}
}

// Snapshot returns the current worker states for the monitoring endpoint.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	workers := make([]*worker, len(s.workers))
	copy(workers, s.workers)
	snap := Snapshot{Running: s.running, StartedAt: s.startedAt}
	s.mu.Unlock()

	now := time.Now()
	for _, w := range workers {
		w.mu.Lock()
		row := WorkerSnapshot{
			Name:      w.name,
			Component: w.component,
			State:     w.state,
			Restarts:  w.restarts,
		}
		if w.state == StateRunning {
			row.Uptime = now.Sub(w.startedAt).Round(time.Second).String()
		}
		if w.lastError != nil {
			row.LastError = w.lastError.Error()
		}
		stuck := w.state == StateRunning && w.policy.StuckAfter > 0 &&
			now.Sub(w.startedAt) > w.policy.StuckAfter
		w.mu.Unlock()

		if row.State == StateFailed || row.State == StateBackoff || stuck {
			snap.Unhealthy++
		}
		snap.Workers = append(snap.Workers, row)
	}
	return snap
}

// Stop cancels every worker and waits up to timeout for them to exit.
func (s *Supervisor) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("supervisor not started")
	}
	cancel := s.cancel
	s.mu.Unlock()

	s.logger.Info("Supervisor stopping")
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("All workers stopped")
	case <-time.After(timeout):
		s.logger.Warn("Timeout waiting for workers to stop",
			zap.Duration("timeout", timeout))
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}
