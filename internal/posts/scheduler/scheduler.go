package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"persona-poster/internal/posts"
)

const (
	// DefaultInterval is how often a post is due
	DefaultInterval = time.Minute * 30

	// DefaultRetryDelay is how long a failed or unschedulable cycle waits
	// before trying again. Failures retry indefinitely at this fixed delay.
	DefaultRetryDelay = time.Minute

	// DefaultGrace is how far past the interval the watchdog lets the
	// schedule drift before forcing a cycle
	DefaultGrace = time.Minute

	// DefaultWatchdogPeriod is the fixed rate of the drift check
	DefaultWatchdogPeriod = time.Minute
)

// Kind categorizes a scheduler failure so logs and tests can distinguish a
// scheduling-setup failure from a failed post cycle
type Kind string

const (
	// KindSetup is a failure reading scheduling state (e.g. the last post
	// marker); the cycle never started
	KindSetup Kind = "setup"

	// KindCycle is a failure inside the generate-and-publish sequence
	KindCycle Kind = "cycle"
)

// Failure wraps an error with its scheduler failure kind
type Failure struct {
	Kind Kind
	Err  error
}

func (f *Failure) Error() string { return string(f.Kind) + ": " + f.Err.Error() }

func (f *Failure) Unwrap() error { return f.Err }

// Poster is the collaborator that owns one post cycle and the last-post
// marker the schedule is derived from
type Poster interface {
	Init() error
	LastPost() (*posts.Record, error)
	PostOnce(ctx context.Context) error
}

// Config holds the scheduler timings. Zero values fall back to the
// defaults above.
type Config struct {
	Interval       time.Duration
	RetryDelay     time.Duration
	Grace          time.Duration
	WatchdogPeriod time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.Grace <= 0 {
		c.Grace = DefaultGrace
	}
	if c.WatchdogPeriod <= 0 {
		c.WatchdogPeriod = DefaultWatchdogPeriod
	}
}

// Scheduler ensures one post attempt occurs approximately every interval.
// A chained one-shot timer drives the normal cadence; an independent
// watchdog forces a cycle when the schedule silently stalls. One instance
// per account, no global state.
type Scheduler struct {
	logger *zap.Logger
	poster Poster
	cfg    Config
	now    func() time.Time

	// posting is the in-flight guard. CAS, not check-then-act, so a
	// watchdog trigger racing the timer cannot double post.
	posting *atomic.Bool

	mu    sync.Mutex
	timer *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
}

func New(logger *zap.Logger, poster Poster, cfg Config) (*Scheduler, error) {
	s := Scheduler{
		logger:  logger,
		poster:  poster,
		cfg:     cfg,
		now:     time.Now,
		posting: atomic.NewBool(false),
	}

	if err := s.validate(); err != nil {
		return nil, err
	}

	s.cfg.applyDefaults()
	s.ctx, s.cancel = context.WithCancel(context.Background())

	return &s, nil
}

func (s *Scheduler) validate() error {
	var missingDeps []string

	for _, tc := range []struct {
		dep string
		chk func() bool
	}{
		{
			dep: "logger",
			chk: func() bool { return s.logger != nil },
		},
		{
			dep: "poster",
			chk: func() bool { return s.poster != nil },
		},
	} {
		if !tc.chk() {
			missingDeps = append(missingDeps, tc.dep)
		}
	}

	if len(missingDeps) > 0 {
		return fmt.Errorf(
			"unable to initialize scheduler due to (%d) missing dependencies: %s",
			len(missingDeps),
			strings.Join(missingDeps, ","),
		)
	}

	return nil
}

// Start initializes the posting collaborator, starts the watchdog, and
// either fires an immediate cycle or arms the timer from the last recorded
// post
func (s *Scheduler) Start(postImmediately bool) error {
	if err := s.poster.Init(); err != nil {
		f := &Failure{Kind: KindSetup, Err: err}
		s.logger.Error("unable to start scheduler", zap.String("kind", string(f.Kind)), zap.Error(err))
		return f
	}

	s.stopTimer()

	go s.watch()

	s.logger.Info(
		"scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Bool("postImmediately", postImmediately),
	)

	if postImmediately {
		go s.runCycle()
		return nil
	}

	s.scheduleNext()

	return nil
}

// Stop halts future scheduling. An in-flight cycle is not interrupted.
func (s *Scheduler) Stop() {
	s.cancel()
	s.stopTimer()
	s.logger.Info("scheduler stopped")
}

// scheduleNext arms the timer from the last recorded post, firing
// immediately if a post is already due. A setup failure arms the retry
// timer instead of failing the process.
func (s *Scheduler) scheduleNext() {
	last, err := s.poster.LastPost()
	if err != nil {
		f := &Failure{Kind: KindSetup, Err: err}
		s.logger.Warn(
			"unable to read schedule state, arming retry timer",
			zap.String("kind", string(f.Kind)),
			zap.Duration("retryDelay", s.cfg.RetryDelay),
			zap.Error(err),
		)
		s.armTimer(s.cfg.RetryDelay)
		return
	}

	delay := NextDelay(last.Timestamp, s.now(), s.cfg.Interval)
	if delay <= 0 {
		s.runCycle()
		return
	}

	s.armTimer(delay)
}

// runCycle executes one guarded post cycle. Success re-arms the full
// interval; failure re-arms the retry delay so a failed cycle never stalls
// the loop.
func (s *Scheduler) runCycle() {
	if !s.posting.CAS(false, true) {
		s.logger.Warn("dropping concurrent trigger", zap.Error(posts.ErrCycleInFlight))
		return
	}
	defer s.posting.Store(false)

	if err := s.poster.PostOnce(s.ctx); err != nil {
		f := &Failure{Kind: KindCycle, Err: err}
		s.logger.Error(
			"post cycle failed, arming retry timer",
			zap.String("kind", string(f.Kind)),
			zap.Duration("retryDelay", s.cfg.RetryDelay),
			zap.Error(err),
		)
		s.armTimer(s.cfg.RetryDelay)
		return
	}

	s.armTimer(s.cfg.Interval)
}

// watch runs the fixed-rate drift check until the scheduler stops. The
// chained timer can be lost to process suspension or a panicking arm path;
// without the watchdog one dropped cycle would silence the loop forever.
func (s *Scheduler) watch() {
	ticker := time.NewTicker(s.cfg.WatchdogPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.checkDrift()
		}
	}
}

func (s *Scheduler) checkDrift() {
	last, err := s.poster.LastPost()
	if err != nil {
		s.logger.Warn("watchdog unable to read schedule state", zap.Error(err))
		return
	}

	elapsed := s.now().Sub(last.Time())
	if elapsed <= s.cfg.Interval+s.cfg.Grace {
		return
	}

	s.logger.Warn(
		"post schedule drifted, forcing cycle",
		zap.Duration("elapsed", elapsed),
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("grace", s.cfg.Grace),
	)

	s.runCycle()
}

func (s *Scheduler) armTimer(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.ctx.Done():
		return
	default:
	}

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(d, s.runCycle)

	s.logger.Debug("timer armed", zap.Duration("delay", d))
}

func (s *Scheduler) stopTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// NextDelay returns how long until the next post is due given the last
// post's millisecond timestamp. Zero or negative means a post is overdue.
// A zero timestamp ("never posted") is always overdue.
func NextDelay(lastMillis int64, now time.Time, interval time.Duration) time.Duration {
	last := time.Unix(0, lastMillis*int64(time.Millisecond))
	return interval - now.Sub(last)
}
