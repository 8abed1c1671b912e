package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fruitsalade/nimbus/internal/logging"
)

var (
	ErrUnknownJob = errors.New("unknown job")
	ErrJobRunning = errors.New("job already running")
)

// JobSpec says when a registered job runs.
type JobSpec struct {
	Name          string
	RunOnStartup  bool
	RunOnSchedule bool
	// Cron is a standard five-field expression or a descriptor such as
	// "@daily" or "@every 6h".
	Cron string
}

type registration struct {
	spec    JobSpec
	job     Job
	running atomic.Bool
}

// Scheduler runs jobs on startup, on their cron schedule and on demand.
// A job never overlaps itself; a run that would overlap is skipped.
type Scheduler struct {
	cron *cron.Cron

	mu   sync.Mutex
	jobs map[string]*registration
	ctx  context.Context
	wg   sync.WaitGroup
}

func NewScheduler() *Scheduler {
	l := cronLogger{logging.Named("scheduler").Sugar()}
	return &Scheduler{
		cron: cron.New(cron.WithLogger(l), cron.WithChain(cron.Recover(l))),
		jobs: make(map[string]*registration),
		ctx:  context.Background(),
	}
}

// Register adds job under spec.Name.
func (s *Scheduler) Register(spec JobSpec, job Job) error {
	if spec.Name == "" {
		spec.Name = job.Name()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.jobs[spec.Name]; dup {
		return fmt.Errorf("job %q registered twice", spec.Name)
	}
	reg := &registration{spec: spec, job: job}

	if spec.RunOnSchedule {
		if _, err := cron.ParseStandard(spec.Cron); err != nil {
			return fmt.Errorf("job %q: bad cron %q: %w", spec.Name, spec.Cron, err)
		}
		if _, err := s.cron.AddFunc(spec.Cron, func() { s.run(s.context(), reg) }); err != nil {
			return fmt.Errorf("schedule %q: %w", spec.Name, err)
		}
	}
	s.jobs[spec.Name] = reg
	return nil
}

// Jobs returns the registered job names in order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start launches startup runs in the background and starts the cron
// clock. ctx is handed to every scheduled run.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	var startup []*registration
	for _, reg := range s.jobs {
		if reg.spec.RunOnStartup {
			startup = append(startup, reg)
		}
	}
	s.mu.Unlock()

	for _, reg := range startup {
		s.wg.Add(1)
		go func(reg *registration) {
			defer s.wg.Done()
			s.run(ctx, reg)
		}(reg)
	}
	s.cron.Start()
	logging.Info("scheduler started", zap.Int("jobs", len(s.Jobs())), zap.Int("startup_runs", len(startup)))
}

// Stop stops the cron clock and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
	logging.Info("scheduler stopped")
}

// Trigger runs the named job now and returns its result.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.Lock()
	reg, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, reg)
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) run(ctx context.Context, reg *registration) error {
	if !reg.running.CompareAndSwap(false, true) {
		logging.Warn("job still running, skipping", zap.String("job", reg.spec.Name))
		return fmt.Errorf("%w: %s", ErrJobRunning, reg.spec.Name)
	}
	defer reg.running.Store(false)
	return Execute(ctx, reg.job)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
