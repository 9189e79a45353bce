package ports

import (
	"context"
	"time"

	"github.com/seu-repo/ocpp-datum/internal/domain"
)

type ChargePointRepository interface {
	Save(ctx context.Context, cp *domain.ChargePoint) error
	FindByID(ctx context.Context, id string) (*domain.ChargePoint, error)
	FindByIdentity(ctx context.Context, identity domain.ChargePointIdentity) (*domain.ChargePoint, error)
	FindByIdentifier(ctx context.Context, identifier string) (*domain.ChargePoint, error)
}

// ChargePointSettingsRepository loads the raw settings rows; merging of owner
// defaults happens in the charge point service.
type ChargePointSettingsRepository interface {
	FindChargePointSettings(ctx context.Context, chargePointID string) (*domain.ChargePointSettings, error)
	FindOwnerSettings(ctx context.Context, ownerID string) (*domain.OwnerSettings, error)
	SaveChargePointSettings(ctx context.Context, s *domain.ChargePointSettings) error
	SaveOwnerSettings(ctx context.Context, s *domain.OwnerSettings) error
}

// ChargeSessionRepository is the session registry. It must guarantee at most
// one incomplete session per charge point connector.
type ChargeSessionRepository interface {
	GetIncompleteSessionForConnector(ctx context.Context, chargePointID string, connectorID int) (*domain.ChargeSession, error)
	GetIncompleteSessionForTransaction(ctx context.Context, chargePointID string, transactionID int) (*domain.ChargeSession, error)
	Save(ctx context.Context, s *domain.ChargeSession) (string, error)
	Get(ctx context.Context, id string) (*domain.ChargeSession, error)
	AddReadings(ctx context.Context, readings []domain.SampledReading) error
	FindReadingsForSession(ctx context.Context, sessionID string) ([]domain.SampledReading, error)
}

type AuthorizationRepository interface {
	FindByToken(ctx context.Context, ownerID, token string) (*domain.Authorization, error)
	Save(ctx context.Context, auth *domain.Authorization) error
}

// DatumRepository is the durable primary datum store.
type DatumRepository interface {
	Store(ctx context.Context, d *domain.Datum) (string, error)
}

// ChargePointStatusRepository persists charge point connectivity.
type ChargePointStatusRepository interface {
	UpdateConnectionStatus(ctx context.Context, ownerID, identifier, connectedTo, sessionID string, connectionDate time.Time, connected bool) error
}
