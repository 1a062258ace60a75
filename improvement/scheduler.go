package improvement

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nakamura-labs/kaizen/archive"
)

// InputSource supplies the evidence for an orchestrator's next cycle.
// Implementations typically pull recent evaluations and reflections from
// whatever session stores the host application keeps.
type InputSource interface {
	CycleInput(ctx context.Context, orchestratorID string) (CycleInput, error)
}

// Scheduler runs periodic improvement cycles and test evaluations for a
// set of orchestrators. A global rate limiter bounds how often cycles may
// fire across all orchestrators, and a per-orchestrator in-flight flag
// prevents overlapping cycles for the same one.
type Scheduler struct {
	service *Service
	source  InputSource
	logger  *zap.Logger

	interval time.Duration
	limiter  *rate.Limiter

	mu       sync.Mutex
	running  map[string]bool
	testIDs  map[string]string // orchestrator -> running test, for evaluation sweeps
	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*Scheduler)

// WithInterval sets how often the scheduler sweeps. Default one hour.
func WithInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.interval = d }
}

// WithRateLimit bounds cycle starts across all orchestrators.
func WithRateLimit(r rate.Limit, burst int) SchedulerOption {
	return func(s *Scheduler) { s.limiter = rate.NewLimiter(r, burst) }
}

// WithSchedulerLogger sets the scheduler logger.
func WithSchedulerLogger(logger *zap.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = logger }
}

// NewScheduler creates a stopped Scheduler.
func NewScheduler(service *Service, source InputSource, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		service:  service,
		source:   source,
		logger:   zap.NewNop(),
		interval: time.Hour,
		limiter:  rate.NewLimiter(rate.Every(10*time.Minute), 3),
		running:  map[string]bool{},
		testIDs:  map[string]string{},
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "improvement_scheduler"))
	return s
}

// Start runs the sweep loop until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context, orchestratorIDs []string) {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.sweep(ctx, orchestratorIDs)
			}
		}
	}()
}

// Stop halts the loop and waits for it to exit. Safe to call without a
// prior Start, and idempotent.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.done
	}
}

// sweep evaluates any running tests first, then starts cycles for
// orchestrators that are idle and within the rate budget.
func (s *Scheduler) sweep(ctx context.Context, orchestratorIDs []string) {
	for _, id := range orchestratorIDs {
		if testID := s.trackedTest(id); testID != "" {
			eval, err := s.service.EvaluateAndActOnTest(ctx, testID)
			if err != nil {
				s.logger.Warn("test evaluation failed",
					zap.String("orchestrator_id", id),
					zap.String("test_id", testID),
					zap.Error(err))
			} else if eval.Recommendation != archive.RecommendContinue {
				s.clearTest(id)
			}
			continue
		}
		if !s.limiter.Allow() {
			s.logger.Debug("cycle rate limited", zap.String("orchestrator_id", id))
			continue
		}
		s.runCycle(ctx, id)
	}
}

func (s *Scheduler) runCycle(ctx context.Context, orchestratorID string) {
	s.mu.Lock()
	if s.running[orchestratorID] {
		s.mu.Unlock()
		s.logger.Debug("cycle already running", zap.String("orchestrator_id", orchestratorID))
		return
	}
	s.running[orchestratorID] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running[orchestratorID] = false
		s.mu.Unlock()
	}()

	input, err := s.source.CycleInput(ctx, orchestratorID)
	if err != nil {
		s.logger.Warn("failed to collect cycle input",
			zap.String("orchestrator_id", orchestratorID),
			zap.Error(err))
		return
	}
	result, err := s.service.RunImprovementCycle(ctx, orchestratorID, input)
	if err != nil {
		s.logger.Warn("improvement cycle failed",
			zap.String("orchestrator_id", orchestratorID),
			zap.Error(err))
		return
	}
	if result.TestID != "" {
		s.mu.Lock()
		s.testIDs[orchestratorID] = result.TestID
		s.mu.Unlock()
	}
}

func (s *Scheduler) trackedTest(orchestratorID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.testIDs[orchestratorID]
}

func (s *Scheduler) clearTest(orchestratorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.testIDs, orchestratorID)
}
