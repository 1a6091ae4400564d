package remote

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/xenking/kart-pricing/internal/domain/apperr"
)

// BreakerConfig configures the circuit breaker guarding a remote service.
type BreakerConfig struct {
	MaxRequests  uint32        `default:"1" usage:"requests allowed while half-open"`
	Interval     time.Duration `default:"60s" usage:"period for clearing counts while closed"`
	Timeout      time.Duration `default:"30s" usage:"time spent open before half-open"`
	FailureRatio float64       `default:"0.5" usage:"failure ratio that opens the breaker"`
	MinRequests  uint32        `default:"5" usage:"requests needed before the ratio is evaluated"`
}

var breakerState = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "Current state of the circuit breaker (0=closed, 1=half-open, 2=open)",
	},
	[]string{"name"},
)

func init() {
	prometheus.MustRegister(breakerState)
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// newBreaker creates a breaker that counts transport failures and server
// errors. Answers the remote service gave on purpose, such as a rejected
// token or an invalid id, do not count as failures.
func newBreaker[T any](name string, cfg BreakerConfig, lg *zap.Logger) *gobreaker.CircuitBreaker[T] {
	breakerState.WithLabelValues(name).Set(0)
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, apperr.ErrBadRequest) ||
				errors.Is(err, ErrUnauthenticated)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
			breakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
}
