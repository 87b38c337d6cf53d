package engine

import (
	"log/slog"
	"time"

	"github.com/ShayCichocki/taskweave/internal/contextmgr"
)

// Defaults used when an option is not supplied.
const (
	DefaultMaxConcurrency = 3
	DefaultCallTimeout    = 5 * time.Minute
	DefaultEventBuffer    = 1024
)

// Option configures an Engine. Use With* functions to create Options.
type Option func(*options)

// options holds all optional configuration.
type options struct {
	maxConcurrency    int
	callTimeout       time.Duration
	retry             RetryPolicy
	policy            FailurePolicy
	contextManager    *contextmgr.Manager
	logger            *slog.Logger
	eventBuffer       int
	compressThreshold int
	resultLimit       int
}

func defaultOptions() options {
	return options{
		maxConcurrency: DefaultMaxConcurrency,
		callTimeout:    DefaultCallTimeout,
		retry:          DefaultRetryPolicy(),
		policy:         PolicyContinue,
		eventBuffer:    DefaultEventBuffer,
	}
}

// WithMaxConcurrency sets the number of tasks that may run at once.
// Values below 1 are ignored.
func WithMaxConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrency = n
		}
	}
}

// WithCallTimeout bounds each collaborator call. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.callTimeout = d }
}

// WithRetryPolicy sets the retry policy for retryable failures.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *options) { o.retry = p.normalized() }
}

// WithFailurePolicy sets how a failed task affects the rest of the run.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithContextManager sets the shared context for the run.
func WithContextManager(m *contextmgr.Manager) Option {
	return func(o *options) { o.contextManager = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithEventBuffer sets the event channel size. Zero disables events.
func WithEventBuffer(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.eventBuffer = n
		}
	}
}

// WithCompressThreshold compresses the shared context to this many bytes
// at every phase barrier. Zero disables compression.
func WithCompressThreshold(bytes int) Option {
	return func(o *options) { o.compressThreshold = bytes }
}

// WithResultLimit caps the number of results retained. Zero keeps all.
func WithResultLimit(n int) Option {
	return func(o *options) { o.resultLimit = n }
}
