package postgres

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/seu-repo/ocpp-datum/internal/domain"
	"github.com/seu-repo/ocpp-datum/internal/ports"
)

type ChargePointStatusRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewChargePointStatusRepository(db *gorm.DB, log *zap.Logger) *ChargePointStatusRepository {
	return &ChargePointStatusRepository{
		db:  db,
		log: log,
	}
}

var _ ports.ChargePointStatusRepository = (*ChargePointStatusRepository)(nil)

func (r *ChargePointStatusRepository) UpdateConnectionStatus(ctx context.Context, ownerID, identifier, connectedTo, sessionID string, connectionDate time.Time, connected bool) error {
	defer observe("status_update", time.Now())
	status := domain.ChargePointStatus{
		OwnerID:       ownerID,
		Identifier:    identifier,
		ConnectedTo:   connectedTo,
		SessionID:     sessionID,
		ConnectedDate: connectionDate,
		Connected:     connected,
		UpdatedAt:     time.Now().UTC(),
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}, {Name: "identifier"}},
		DoUpdates: clause.AssignmentColumns([]string{"connected_to", "session_id", "connected_date", "connected", "updated_at"}),
	}).Create(&status).Error
	if err != nil {
		r.log.Error("Failed to update charge point status",
			zap.String("owner_id", ownerID),
			zap.String("identifier", identifier),
			zap.Error(err),
		)
	}
	return err
}

// Get returns the stored status, or nil when none was recorded.
func (r *ChargePointStatusRepository) Get(ctx context.Context, ownerID, identifier string) (*domain.ChargePointStatus, error) {
	var s domain.ChargePointStatus
	err := r.db.WithContext(ctx).First(&s, "owner_id = ? AND identifier = ?", ownerID, identifier).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}
