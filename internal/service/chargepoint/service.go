package chargepoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-datum/internal/domain"
	"github.com/seu-repo/ocpp-datum/internal/ports"
)

// DefaultCacheTTL is used when the configured TTL is not positive.
const DefaultCacheTTL = 5 * time.Minute

type Service struct {
	repo     ports.ChargePointRepository
	settings ports.ChargePointSettingsRepository
	cache    ports.Cache
	ttl      time.Duration
	log      *zap.Logger
}

func NewService(repo ports.ChargePointRepository, settings ports.ChargePointSettingsRepository, cache ports.Cache, ttl time.Duration, log *zap.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Service{
		repo:     repo,
		settings: settings,
		cache:    cache,
		ttl:      ttl,
		log:      log,
	}
}

var _ ports.ChargePointService = (*Service)(nil)

func chargePointKey(identity domain.ChargePointIdentity) string {
	return fmt.Sprintf("cp:%s:%s", identity.OwnerID, identity.Identifier)
}

func settingsKey(ownerID, chargePointID string) string {
	return fmt.Sprintf("cp-settings:%s:%s", ownerID, chargePointID)
}

// GetChargePoint returns the enabled charge point with the given identity, or
// nil when it is unknown or disabled.
func (s *Service) GetChargePoint(ctx context.Context, identity domain.ChargePointIdentity) (*domain.ChargePoint, error) {
	var cp domain.ChargePoint
	if s.cacheGet(ctx, chargePointKey(identity), &cp) {
		return enabled(&cp), nil
	}

	found, err := s.repo.FindByIdentity(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("find charge point: %w", err)
	}
	if found == nil {
		return nil, nil
	}
	s.cacheSet(ctx, chargePointKey(identity), found)
	if !found.Enabled {
		s.log.Info("Charge point is disabled",
			zap.String("owner_id", identity.OwnerID),
			zap.String("identifier", identity.Identifier),
		)
	}
	return enabled(found), nil
}

func enabled(cp *domain.ChargePoint) *domain.ChargePoint {
	if !cp.Enabled {
		return nil
	}
	return cp
}

// ResolveSettings merges the charge point's own settings over its owner's.
func (s *Service) ResolveSettings(ctx context.Context, ownerID, chargePointID string) (*domain.ChargePointSettings, error) {
	key := settingsKey(ownerID, chargePointID)
	var cached domain.ChargePointSettings
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}

	cpSettings, err := s.settings.FindChargePointSettings(ctx, chargePointID)
	if err != nil {
		return nil, fmt.Errorf("find charge point settings: %w", err)
	}
	var owner *domain.OwnerSettings
	if cpSettings == nil || cpSettings.SourceIDTemplate == "" {
		owner, err = s.settings.FindOwnerSettings(ctx, ownerID)
		if err != nil {
			return nil, fmt.Errorf("find owner settings: %w", err)
		}
	}

	merged := domain.MergeSettings(cpSettings, owner)
	if merged == nil {
		return nil, nil
	}
	merged.ChargePointID = chargePointID
	merged.OwnerID = ownerID
	s.cacheSet(ctx, key, merged)
	return merged, nil
}

// Invalidate drops cached data for a charge point.
func (s *Service) Invalidate(ctx context.Context, cp *domain.ChargePoint) {
	if s.cache == nil || cp == nil {
		return
	}
	for _, key := range []string{chargePointKey(cp.Identity()), settingsKey(cp.OwnerID, cp.ID)} {
		if err := s.cache.Delete(ctx, key); err != nil {
			s.log.Warn("Failed to invalidate cache", zap.String("key", key), zap.Error(err))
		}
	}
}

func (s *Service) cacheGet(ctx context.Context, key string, out interface{}) bool {
	if s.cache == nil {
		return false
	}
	val, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ports.ErrCacheMiss) {
			s.log.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		s.log.Warn("Discarding invalid cache entry", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (s *Service) cacheSet(ctx context.Context, key string, v interface{}) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, v, s.ttl); err != nil {
		s.log.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
}
