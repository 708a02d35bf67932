package threadsched

import "time"

// schedulerOptions holds configuration resolved at New time.
type schedulerOptions struct {
	timeSlice      time.Duration
	mlfqs          bool
	donationDepth  int
	logger         kernelLogger
	metrics        bool
	execRateLimit  int
	execRateWindow time.Duration
	pageCount      int
}

// SchedulerOption configures a Scheduler at construction time.
type SchedulerOption interface {
	applyScheduler(*schedulerOptions) error
}

type schedulerOptionImpl struct {
	fn func(*schedulerOptions) error
}

func (o *schedulerOptionImpl) applyScheduler(opts *schedulerOptions) error {
	return o.fn(opts)
}

// WithTimeSlice sets the length of a preemption quantum (how often Tick
// forces the running thread to yield to the head of the ready queue when a
// thread of equal priority is waiting). The teaching kernel this mirrors
// calls this TIME_SLICE.
func WithTimeSlice(d time.Duration) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.timeSlice = d
		return nil
	}}
}

// WithMLFQS switches the scheduler from strict-priority-with-donation to
// the BSD-style multi-level feedback queue scheduler (mlfqs.go). Donation
// is meaningless and disabled in this mode, matching the teaching kernel.
func WithMLFQS(enabled bool) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.mlfqs = enabled
		return nil
	}}
}

// WithDonationDepth caps how many links a priority donation chain walks
// before the scheduler treats further propagation as a lock-graph cycle
// and raises a KernelPanic. Zero means use the default of 8.
func WithDonationDepth(depth int) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.donationDepth = depth
		return nil
	}}
}

// WithLogger installs a structured logger; see logging.go. A nil logger
// (the default) disables logging entirely at negligible cost.
func WithLogger(l kernelLogger) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.logger = l
		return nil
	}}
}

// WithMetrics enables scheduler latency and donation-depth metrics
// collection (metrics.go). Adds a percentile-estimator update per tick and
// per context switch.
func WithMetrics(enabled bool) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.metrics = enabled
		return nil
	}}
}

// WithExecRateLimit caps FORK/EXEC syscalls to n invocations per window,
// guarding against fork bombs (ratelimit.go). n <= 0 disables the limit.
func WithExecRateLimit(n int, window time.Duration) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.execRateLimit = n
		opts.execRateWindow = window
		return nil
	}}
}

// WithPageCount sets the number of pages the simulated page allocator
// (pagepool.go) starts with. Zero means use the default.
func WithPageCount(n int) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.pageCount = n
		return nil
	}}
}

const (
	defaultTimeSlice      = 4 * time.Millisecond
	defaultDonationDepth  = 8
	defaultExecRateLimit  = 16
	defaultExecRateWindow = time.Second
	defaultPageCount      = 4096
)

func resolveSchedulerOptions(opts []SchedulerOption) (*schedulerOptions, error) {
	cfg := &schedulerOptions{
		timeSlice:      defaultTimeSlice,
		donationDepth:  defaultDonationDepth,
		execRateLimit:  defaultExecRateLimit,
		execRateWindow: defaultExecRateWindow,
		pageCount:      defaultPageCount,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyScheduler(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.donationDepth <= 0 {
		cfg.donationDepth = defaultDonationDepth
	}
	return cfg, nil
}
