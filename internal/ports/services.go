package ports

import (
	"context"
	"errors"
	"time"

	"github.com/seu-repo/ocpp-datum/internal/domain"
)

// AuthorizationService decides whether an id tag may charge at a charge point.
type AuthorizationService interface {
	Authorize(ctx context.Context, identity domain.ChargePointIdentity, idTag string) (*domain.AuthorizationInfo, error)
}

type ChargePointService interface {
	GetChargePoint(ctx context.Context, identity domain.ChargePointIdentity) (*domain.ChargePoint, error)
	// ResolveSettings returns the effective settings for a charge point, or
	// nil when neither the charge point nor its owner has any.
	ResolveSettings(ctx context.Context, ownerID, chargePointID string) (*domain.ChargePointSettings, error)
	// Invalidate drops anything cached for the charge point.
	Invalidate(ctx context.Context, cp *domain.ChargePoint)
}

// DatumPublisher is the best-effort realtime bus.
type DatumPublisher interface {
	IsConfigured() bool
	ProcessDatum(ctx context.Context, d *domain.Datum) bool
}

// ChargeSessionManager is the entry point for protocol handlers.
type ChargeSessionManager interface {
	StartChargingSession(ctx context.Context, info domain.ChargeSessionStartInfo) (*domain.ChargeSession, error)
	EndChargingSession(ctx context.Context, info domain.ChargeSessionEndInfo) error
	AddChargingSessionReadings(ctx context.Context, identity domain.ChargePointIdentity, readings []domain.SampledReading) error
	GetActiveChargingSession(ctx context.Context, identity domain.ChargePointIdentity, transactionID int) (*domain.ChargeSession, error)
}

// ErrCacheMiss is returned by Cache.Get for absent or expired keys.
var ErrCacheMiss = errors.New("cache miss")

// Cache is a string key/value cache with expiry. Values that are not strings
// or byte slices are stored as JSON.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping() error
	Close() error
}
