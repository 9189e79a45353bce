package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/seu-repo/ocpp-datum/internal/domain"
	"github.com/seu-repo/ocpp-datum/internal/ports"
)

const readingBatchSize = 100

type ChargeSessionRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewChargeSessionRepository(db *gorm.DB, log *zap.Logger) ports.ChargeSessionRepository {
	return &ChargeSessionRepository{
		db:  db,
		log: log,
	}
}

func (r *ChargeSessionRepository) GetIncompleteSessionForConnector(ctx context.Context, chargePointID string, connectorID int) (*domain.ChargeSession, error) {
	defer observe("session_incomplete_connector", time.Now())
	return r.first(ctx, "charge_point_id = ? AND connector_id = ? AND ended IS NULL", chargePointID, connectorID)
}

func (r *ChargeSessionRepository) GetIncompleteSessionForTransaction(ctx context.Context, chargePointID string, transactionID int) (*domain.ChargeSession, error) {
	defer observe("session_incomplete_transaction", time.Now())
	return r.first(ctx, "charge_point_id = ? AND transaction_id = ? AND ended IS NULL", chargePointID, transactionID)
}

// Save inserts the session or updates its mutable columns. The transaction ID
// column is filled by the database sequence and never written here.
func (r *ChargeSessionRepository) Save(ctx context.Context, s *domain.ChargeSession) (string, error) {
	defer observe("session_save", time.Now())
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"auth_id", "ended", "end_reason", "end_auth_id", "posted"}),
	}).Create(s).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		r.log.Warn("Charge session collides with an incomplete session",
			zap.String("session_id", s.ID),
			zap.String("charge_point_id", s.ChargePointID),
			zap.Int("connector_id", s.ConnectorID),
		)
		return "", fmt.Errorf("%w: %v", domain.ErrConnectorInUse, err)
	}
	if err != nil {
		r.log.Error("Failed to save charge session", zap.String("session_id", s.ID), zap.Error(err))
		return "", err
	}
	return s.ID, nil
}

func (r *ChargeSessionRepository) Get(ctx context.Context, id string) (*domain.ChargeSession, error) {
	defer observe("session_get", time.Now())
	return r.first(ctx, "id = ?", id)
}

func (r *ChargeSessionRepository) AddReadings(ctx context.Context, readings []domain.SampledReading) error {
	if len(readings) == 0 {
		return nil
	}
	defer observe("readings_add", time.Now())
	rows := make([]domain.SampledReading, len(readings))
	copy(rows, readings)
	for i := range rows {
		rows[i].ID = 0
	}
	if err := r.db.WithContext(ctx).CreateInBatches(&rows, readingBatchSize).Error; err != nil {
		r.log.Error("Failed to add readings", zap.Int("count", len(rows)), zap.Error(err))
		return err
	}
	return nil
}

func (r *ChargeSessionRepository) FindReadingsForSession(ctx context.Context, sessionID string) ([]domain.SampledReading, error) {
	defer observe("readings_find", time.Now())
	var readings []domain.SampledReading
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp, location, measurand, phase, id").
		Find(&readings).Error
	return readings, err
}

func (r *ChargeSessionRepository) first(ctx context.Context, query string, args ...interface{}) (*domain.ChargeSession, error) {
	var s domain.ChargeSession
	err := r.db.WithContext(ctx).Where(query, args...).Order("created desc").First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}
