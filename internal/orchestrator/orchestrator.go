package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"github.com/stacklok/reviews-etl/internal/etl"
	"github.com/stacklok/reviews-etl/internal/telemetry"
)

//go:generate mockgen -destination=mocks/mock_orchestrator.go -package=mocks -source=orchestrator.go Orchestrator

const (
	// DefaultInterval is the delay between the end of one scheduled run and the start of the next
	DefaultInterval = 60 * time.Second

	// TracerName is the name used for the orchestrator tracer
	TracerName = "github.com/stacklok/reviews-etl/orchestrator"
)

var (
	// ErrAlreadyStarted is returned when Start is called on a running orchestrator
	ErrAlreadyStarted = errors.New("orchestrator already started")

	// ErrStopped is returned when the orchestrator has been stopped and cannot be used again
	ErrStopped = errors.New("orchestrator stopped")

	// ErrStopTimeout is returned by Stop when the loop did not exit within the bound
	ErrStopTimeout = errors.New("timed out waiting for orchestrator to stop")

	// ErrInFlight is returned under PolicyReject when another run is executing
	ErrInFlight = errors.New("an ETL run is already in progress")
)

// State is a phase of the schedule lifecycle
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateInvoking State = "invoking"
	StateWaiting  State = "waiting"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// Trigger identifies what started a run
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// ConcurrencyPolicy controls how overlapping runs are handled
type ConcurrencyPolicy string

const (
	// PolicyConcurrent lets runs overlap
	PolicyConcurrent ConcurrencyPolicy = "concurrent"
	// PolicySingleFlight makes overlapping callers share one execution
	PolicySingleFlight ConcurrencyPolicy = "singleflight"
	// PolicyReject fails overlapping callers with ErrInFlight
	PolicyReject ConcurrencyPolicy = "reject"
)

// Orchestrator runs the ETL work unit on a fixed-delay schedule and on demand
type Orchestrator interface {
	// Start launches the background loop and returns once it is running.
	// The first run happens immediately.
	Start(ctx context.Context) error

	// Stop cancels the loop and waits up to timeout for it to exit.
	// An in-flight run is not interrupted. Returns ErrStopTimeout on expiry.
	Stop(timeout time.Duration) error

	// RunNow executes the work unit once on ctx, outside of the schedule
	RunNow(ctx context.Context) (*etl.Result, error)

	// Status returns a snapshot of the schedule state
	Status() Status

	// Done is closed once the loop has exited
	Done() <-chan struct{}
}

// Run describes a single execution of the work unit
type Run struct {
	ID         string      `json:"run_id"`
	Trigger    Trigger     `json:"trigger"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Error      string      `json:"error,omitempty"`
	Result     *etl.Result `json:"result,omitempty"`
}

// Status is a point-in-time view of the schedule
type Status struct {
	State    State  `json:"state"`
	Running  bool   `json:"running"`
	Interval string `json:"interval"`
	Policy   string `json:"concurrency"`
	// InFlight counts runs currently executing, scheduled or manual
	InFlight int        `json:"in_flight"`
	Ticks    int64      `json:"ticks"`
	Failures int64      `json:"failures"`
	NextRun  *time.Time `json:"next_run,omitempty"`
	LastRun  *Run       `json:"last_run,omitempty"`
}

// Option configures the orchestrator
type Option func(*defaultOrchestrator)

// WithInterval sets the delay between scheduled runs. Non-positive values are ignored.
func WithInterval(interval time.Duration) Option {
	return func(o *defaultOrchestrator) {
		if interval > 0 {
			o.interval = interval
		}
	}
}

// WithClock replaces the wall clock, mostly for tests
func WithClock(c clock.Clock) Option {
	return func(o *defaultOrchestrator) {
		o.clock = c
	}
}

// WithMetrics sets the ETL run metrics
func WithMetrics(metrics *telemetry.ETLMetrics) Option {
	return func(o *defaultOrchestrator) {
		o.metrics = metrics
	}
}

// WithTracerProvider sets the tracer provider used for run spans
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(o *defaultOrchestrator) {
		if provider != nil {
			o.tracer = provider.Tracer(TracerName)
		}
	}
}

// WithConcurrencyPolicy sets how overlapping runs are handled.
// Unknown values fall back to PolicyConcurrent.
func WithConcurrencyPolicy(policy ConcurrencyPolicy) Option {
	return func(o *defaultOrchestrator) {
		switch policy {
		case PolicySingleFlight, PolicyReject:
			o.policy = policy
		default:
			o.policy = PolicyConcurrent
		}
	}
}

// defaultOrchestrator is the default implementation of Orchestrator
type defaultOrchestrator struct {
	runner   etl.Runner
	interval time.Duration
	clock    clock.Clock
	policy   ConcurrencyPolicy
	metrics  *telemetry.ETLMetrics
	tracer   trace.Tracer

	flight singleflight.Group

	mu       sync.Mutex
	state    State
	cancel   context.CancelFunc
	inFlight int
	busy     bool
	ticks    int64
	failures int64
	nextRun  *time.Time
	lastRun  *Run

	done chan struct{}
}

// New creates an orchestrator for runner. It does nothing until Start is called.
func New(runner etl.Runner, opts ...Option) Orchestrator {
	o := &defaultOrchestrator{
		runner:   runner,
		interval: DefaultInterval,
		clock:    clock.RealClock{},
		policy:   PolicyConcurrent,
		state:    StateIdle,
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Status returns a snapshot of the schedule state
func (o *defaultOrchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Status{
		State:    o.state,
		Running:  o.state == StateStarting || o.state == StateInvoking || o.state == StateWaiting,
		Interval: o.interval.String(),
		Policy:   string(o.policy),
		InFlight: o.inFlight,
		Ticks:    o.ticks,
		Failures: o.failures,
	}
	if o.nextRun != nil {
		next := *o.nextRun
		s.NextRun = &next
	}
	if o.lastRun != nil {
		last := *o.lastRun
		s.LastRun = &last
	}
	return s
}

// Done is closed once the loop has exited
func (o *defaultOrchestrator) Done() <-chan struct{} {
	return o.done
}

func (o *defaultOrchestrator) setState(state State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = state
}
