package postgres

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/seu-repo/ocpp-datum/internal/domain"
	"github.com/seu-repo/ocpp-datum/internal/ports"
)

type ChargePointRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewChargePointRepository(db *gorm.DB, log *zap.Logger) ports.ChargePointRepository {
	return &ChargePointRepository{
		db:  db,
		log: log,
	}
}

func (r *ChargePointRepository) Save(ctx context.Context, cp *domain.ChargePoint) error {
	result := r.db.WithContext(ctx).Save(cp)
	if result.Error != nil {
		r.log.Error("Failed to save charge point", zap.String("identifier", cp.Identifier), zap.Error(result.Error))
		return result.Error
	}
	return nil
}

func (r *ChargePointRepository) FindByID(ctx context.Context, id string) (*domain.ChargePoint, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *ChargePointRepository) FindByIdentity(ctx context.Context, identity domain.ChargePointIdentity) (*domain.ChargePoint, error) {
	return r.first(ctx, "owner_id = ? AND identifier = ?", identity.OwnerID, identity.Identifier)
}

// FindByIdentifier returns the oldest charge point using identifier. The
// protocol handshake only carries the identifier, so identifiers are expected
// to be unique across owners that share an endpoint.
func (r *ChargePointRepository) FindByIdentifier(ctx context.Context, identifier string) (*domain.ChargePoint, error) {
	return r.first(ctx, "identifier = ?", identifier)
}

func (r *ChargePointRepository) first(ctx context.Context, query string, args ...interface{}) (*domain.ChargePoint, error) {
	var cp domain.ChargePoint
	err := r.db.WithContext(ctx).Where(query, args...).Order("created_at").First(&cp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cp, nil
}
