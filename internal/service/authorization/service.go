package authorization

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
const DefaultCacheTTL = time.Minute

// Service authorizes id tags against the owner's authorization list.
type Service struct {
	repo  ports.AuthorizationRepository
	cache ports.Cache
	ttl   time.Duration
	clock ports.Clock
	log   *zap.Logger
}

func NewService(repo ports.AuthorizationRepository, cache ports.Cache, ttl time.Duration, clock ports.Clock, log *zap.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Service{
		repo:  repo,
		cache: cache,
		ttl:   ttl,
		clock: clock,
		log:   log,
	}
}

var _ ports.AuthorizationService = (*Service)(nil)

func (s *Service) Authorize(ctx context.Context, identity domain.ChargePointIdentity, idTag string) (*domain.AuthorizationInfo, error) {
	if idTag == "" {
		return &domain.AuthorizationInfo{Status: domain.AuthorizationStatusInvalid}, nil
	}

	key := fmt.Sprintf("auth:%s:%s", identity.OwnerID, idTag)
	if info, ok := s.cached(ctx, key); ok {
		return info, nil
	}

	auth, err := s.repo.FindByToken(ctx, identity.OwnerID, idTag)
	if err != nil {
		return nil, fmt.Errorf("find authorization: %w", err)
	}

	info := s.evaluate(idTag, auth)
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, info, s.ttl); err != nil {
			s.log.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	s.log.Debug("Authorized id tag",
		zap.String("owner_id", identity.OwnerID),
		zap.String("identifier", identity.Identifier),
		zap.String("id_tag", idTag),
		zap.String("status", string(info.Status)),
	)
	return info, nil
}

func (s *Service) cached(ctx context.Context, key string) (*domain.AuthorizationInfo, bool) {
	if s.cache == nil {
		return nil, false
	}
	val, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ports.ErrCacheMiss) {
			s.log.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	var info domain.AuthorizationInfo
	if err := json.Unmarshal([]byte(val), &info); err != nil {
		return nil, false
	}
	// an accepted tag may have expired since it was cached
	if info.Status == domain.AuthorizationStatusAccepted && info.ExpiryDate != nil && !info.ExpiryDate.After(s.clock.Now()) {
		info.Status = domain.AuthorizationStatusExpired
	}
	return &info, true
}

func (s *Service) evaluate(idTag string, auth *domain.Authorization) *domain.AuthorizationInfo {
	info := &domain.AuthorizationInfo{ID: idTag}
	switch {
	case auth == nil:
		info.Status = domain.AuthorizationStatusInvalid
	case !auth.Enabled:
		info.Status = domain.AuthorizationStatusBlocked
	case auth.Expiry != nil && !auth.Expiry.After(s.clock.Now()):
		info.Status = domain.AuthorizationStatusExpired
	default:
		info.Status = domain.AuthorizationStatusAccepted
	}
	if auth != nil {
		info.ExpiryDate = auth.Expiry
		info.ParentID = auth.ParentID
	}
	return info
}
