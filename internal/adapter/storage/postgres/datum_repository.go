package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/seu-repo/ocpp-datum/internal/domain"
	"github.com/seu-repo/ocpp-datum/internal/ports"
)

type DatumRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewDatumRepository(db *gorm.DB, log *zap.Logger) ports.DatumRepository {
	return &DatumRepository{
		db:  db,
		log: log,
	}
}

// Store writes a copy of d under a new ID and returns the ID. d itself is not
// modified since it may be shared with other sinks.
func (r *DatumRepository) Store(ctx context.Context, d *domain.Datum) (string, error) {
	defer observe("datum_store", time.Now())
	row := *d
	row.ID = uuid.New().String()
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		r.log.Error("Failed to store datum",
			zap.String("source_id", d.SourceID),
			zap.Time("created", d.Created),
			zap.Error(err),
		)
		return "", err
	}
	return row.ID, nil
}

// FindBySource returns the datum of a source created in [from, to).
func (r *DatumRepository) FindBySource(ctx context.Context, sourceID string, from, to time.Time) ([]domain.Datum, error) {
	var out []domain.Datum
	err := r.db.WithContext(ctx).
		Where("source_id = ? AND created >= ? AND created < ?", sourceID, from, to).
		Order("created").
		Find(&out).Error
	return out, err
}
