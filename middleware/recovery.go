package middleware

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"market_terminal/utils"

	"github.com/sony/gobreaker"
)

var (
	circuitBreaker *gobreaker.CircuitBreaker
	once           sync.Once
)

func init() {
	once.Do(func() {
		circuitBreaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "kv-breaker",
			MaxRequests: 3,
			Interval:    10 * time.Second,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				utils.Logger.Infow("Circuit breaker state changed",
					"breaker", name,
					"from", from.String(),
					"to", to.String())
			},
		})
	})
}

// WithCircuitBreaker guards key/value lookups so a sick store cannot
// stall every render frame with timeouts.
func WithCircuitBreaker(operation string, fn func() error) error {
	_, err := circuitBreaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	return nil
}

// WithRecover converts a panic in fn into an error so the caller can
// log it and carry on with the next frame.
func WithRecover(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			utils.Logger.Errorw("Panic recovered",
				"error", r,
				"stack", string(stack))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	fn()
	return nil
}
