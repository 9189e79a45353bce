package postgres

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/seu-repo/ocpp-datum/internal/domain"
	"github.com/seu-repo/ocpp-datum/internal/ports"
)

type ChargePointSettingsRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewChargePointSettingsRepository(db *gorm.DB, log *zap.Logger) ports.ChargePointSettingsRepository {
	return &ChargePointSettingsRepository{
		db:  db,
		log: log,
	}
}

func (r *ChargePointSettingsRepository) FindChargePointSettings(ctx context.Context, chargePointID string) (*domain.ChargePointSettings, error) {
	var s domain.ChargePointSettings
	err := r.db.WithContext(ctx).First(&s, "charge_point_id = ?", chargePointID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *ChargePointSettingsRepository) FindOwnerSettings(ctx context.Context, ownerID string) (*domain.OwnerSettings, error) {
	var s domain.OwnerSettings
	err := r.db.WithContext(ctx).First(&s, "owner_id = ?", ownerID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *ChargePointSettingsRepository) SaveChargePointSettings(ctx context.Context, s *domain.ChargePointSettings) error {
	if err := r.db.WithContext(ctx).Save(s).Error; err != nil {
		r.log.Error("Failed to save charge point settings", zap.String("charge_point_id", s.ChargePointID), zap.Error(err))
		return err
	}
	return nil
}

func (r *ChargePointSettingsRepository) SaveOwnerSettings(ctx context.Context, s *domain.OwnerSettings) error {
	if err := r.db.WithContext(ctx).Save(s).Error; err != nil {
		r.log.Error("Failed to save owner settings", zap.String("owner_id", s.OwnerID), zap.Error(err))
		return err
	}
	return nil
}
