package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-datum/internal/domain"
	"github.com/seu-repo/ocpp-datum/internal/ports"
)

// BreakerSettings configures the breaker guarding realtime publishes.
type BreakerSettings struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DatumPublisher sends datum to the realtime bus. The subject of a datum is
// the configured prefix followed by its source ID with path separators
// turned into subject tokens.
type DatumPublisher struct {
	mq      MessageQueue
	prefix  string
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

var _ ports.DatumPublisher = (*DatumPublisher)(nil)

var subjectReplacer = strings.NewReplacer("/", ".", " ", "_", "*", "_", ">", "_")

// NewDatumPublisher wraps mq. A nil mq gives a publisher that reports itself
// as not configured.
func NewDatumPublisher(mq MessageQueue, prefix string, settings BreakerSettings, log *zap.Logger) *DatumPublisher {
	threshold := settings.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "realtime-bus",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &DatumPublisher{
		mq:      mq,
		prefix:  strings.TrimSuffix(prefix, "."),
		breaker: cb,
		log:     log,
	}
}

func (p *DatumPublisher) IsConfigured() bool {
	return p != nil && p.mq != nil
}

// ProcessDatum publishes d as JSON and reports whether the broker accepted it.
func (p *DatumPublisher) ProcessDatum(ctx context.Context, d *domain.Datum) bool {
	if !p.IsConfigured() || d == nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		return false
	}
	data, err := json.Marshal(d)
	if err != nil {
		p.log.Error("Failed to encode datum", zap.String("source_id", d.SourceID), zap.Error(err))
		return false
	}
	subject := p.Subject(d.SourceID)
	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.mq.Publish(subject, data)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			p.log.Debug("Realtime bus unavailable", zap.String("subject", subject), zap.Error(err))
		} else {
			p.log.Warn("Failed to publish datum", zap.String("subject", subject), zap.Error(err))
		}
		return false
	}
	return true
}

// Subject returns the bus subject for a source ID.
func (p *DatumPublisher) Subject(sourceID string) string {
	s := subjectReplacer.Replace(strings.Trim(sourceID, "/"))
	if p.prefix == "" {
		return s
	}
	if s == "" {
		return p.prefix
	}
	return p.prefix + "." + s
}

// Close closes the underlying queue.
func (p *DatumPublisher) Close() error {
	if !p.IsConfigured() {
		return nil
	}
	return p.mq.Close()
}
