package postgres

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/seu-repo/ocpp-datum/internal/domain"
	"github.com/seu-repo/ocpp-datum/internal/ports"
)

type AuthorizationRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewAuthorizationRepository(db *gorm.DB, log *zap.Logger) ports.AuthorizationRepository {
	return &AuthorizationRepository{
		db:  db,
		log: log,
	}
}

func (r *AuthorizationRepository) FindByToken(ctx context.Context, ownerID, token string) (*domain.Authorization, error) {
	var a domain.Authorization
	err := r.db.WithContext(ctx).First(&a, "owner_id = ? AND token = ?", ownerID, token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (r *AuthorizationRepository) Save(ctx context.Context, a *domain.Authorization) error {
	if err := r.db.WithContext(ctx).Save(a).Error; err != nil {
		r.log.Error("Failed to save authorization", zap.String("owner_id", a.OwnerID), zap.Error(err))
		return err
	}
	return nil
}
