package worker

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrWorkerUnavailable is returned when the restart breaker is open:
// the worker crashed repeatedly and further restarts are pointless.
var ErrWorkerUnavailable = errors.New("worker subprocess unavailable")

// RestartPolicy guards worker restarts with a circuit breaker and
// bounded exponential backoff. A crashing target can take the worker
// down on every batch; the breaker turns that into a clean abort with
// partial progress instead of a restart storm.
type RestartPolicy struct {
	breaker *gobreaker.CircuitBreaker

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int
}

// NewRestartPolicy builds the default policy: three consecutive
// failures open the breaker for thirty seconds.
func NewRestartPolicy() *RestartPolicy {
	return &RestartPolicy{
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "petrel-worker",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		MaxAttempts:    3,
	}
}

// Run executes op through the breaker with retries. Each retry waits
// with exponential backoff.
func (p *RestartPolicy) Run(op func() error) error {
	backoff := p.InitialBackoff
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		_, err := p.breaker.Execute(func() (any, error) {
			return nil, op()
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return ErrWorkerUnavailable
		}
		lastErr = err
		time.Sleep(backoff)
		backoff *= 2
		if backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}
	return lastErr
}
