package mocks

import (
	"context"
	"sync"

	"github.com/seu-repo/ocpp-datum/internal/domain"
)

// MockAuthorizationService is a mock implementation of AuthorizationService.
// Every id tag is accepted unless AuthorizeFunc says otherwise.
type MockAuthorizationService struct {
	AuthorizeFunc func(ctx context.Context, identity domain.ChargePointIdentity, idTag string) (*domain.AuthorizationInfo, error)
}

func (m *MockAuthorizationService) Authorize(ctx context.Context, identity domain.ChargePointIdentity, idTag string) (*domain.AuthorizationInfo, error) {
	if m.AuthorizeFunc != nil {
		return m.AuthorizeFunc(ctx, identity, idTag)
	}
	return &domain.AuthorizationInfo{ID: idTag, Status: domain.AuthorizationStatusAccepted}, nil
}

// MockChargePointService is a mock implementation of ChargePointService
type MockChargePointService struct {
	GetChargePointFunc  func(ctx context.Context, identity domain.ChargePointIdentity) (*domain.ChargePoint, error)
	ResolveSettingsFunc func(ctx context.Context, ownerID, chargePointID string) (*domain.ChargePointSettings, error)

	mu          sync.Mutex
	Invalidated []*domain.ChargePoint
}

func (m *MockChargePointService) GetChargePoint(ctx context.Context, identity domain.ChargePointIdentity) (*domain.ChargePoint, error) {
	if m.GetChargePointFunc != nil {
		return m.GetChargePointFunc(ctx, identity)
	}
	return nil, nil
}

func (m *MockChargePointService) ResolveSettings(ctx context.Context, ownerID, chargePointID string) (*domain.ChargePointSettings, error) {
	if m.ResolveSettingsFunc != nil {
		return m.ResolveSettingsFunc(ctx, ownerID, chargePointID)
	}
	return nil, nil
}

func (m *MockChargePointService) Invalidate(ctx context.Context, cp *domain.ChargePoint) {
	m.mu.Lock()
	m.Invalidated = append(m.Invalidated, cp)
	m.mu.Unlock()
}

// MockDatumPublisher is a mock implementation of DatumPublisher
type MockDatumPublisher struct {
	Configured       bool
	ProcessDatumFunc func(ctx context.Context, d *domain.Datum) bool

	mu        sync.Mutex
	Published []*domain.Datum
}

func (m *MockDatumPublisher) IsConfigured() bool {
	return m.Configured
}

func (m *MockDatumPublisher) ProcessDatum(ctx context.Context, d *domain.Datum) bool {
	m.mu.Lock()
	m.Published = append(m.Published, d)
	m.mu.Unlock()
	if m.ProcessDatumFunc != nil {
		return m.ProcessDatumFunc(ctx, d)
	}
	return true
}

// MockChargeSessionManager is a mock implementation of ChargeSessionManager
type MockChargeSessionManager struct {
	StartChargingSessionFunc       func(ctx context.Context, info domain.ChargeSessionStartInfo) (*domain.ChargeSession, error)
	EndChargingSessionFunc         func(ctx context.Context, info domain.ChargeSessionEndInfo) error
	AddChargingSessionReadingsFunc func(ctx context.Context, identity domain.ChargePointIdentity, readings []domain.SampledReading) error
	GetActiveChargingSessionFunc   func(ctx context.Context, identity domain.ChargePointIdentity, transactionID int) (*domain.ChargeSession, error)
}

func (m *MockChargeSessionManager) StartChargingSession(ctx context.Context, info domain.ChargeSessionStartInfo) (*domain.ChargeSession, error) {
	if m.StartChargingSessionFunc != nil {
		return m.StartChargingSessionFunc(ctx, info)
	}
	return &domain.ChargeSession{ConnectorID: info.ConnectorID, AuthID: info.AuthorizationID, Created: info.Timestamp}, nil
}

func (m *MockChargeSessionManager) EndChargingSession(ctx context.Context, info domain.ChargeSessionEndInfo) error {
	if m.EndChargingSessionFunc != nil {
		return m.EndChargingSessionFunc(ctx, info)
	}
	return nil
}

func (m *MockChargeSessionManager) AddChargingSessionReadings(ctx context.Context, identity domain.ChargePointIdentity, readings []domain.SampledReading) error {
	if m.AddChargingSessionReadingsFunc != nil {
		return m.AddChargingSessionReadingsFunc(ctx, identity, readings)
	}
	return nil
}

func (m *MockChargeSessionManager) GetActiveChargingSession(ctx context.Context, identity domain.ChargePointIdentity, transactionID int) (*domain.ChargeSession, error) {
	if m.GetActiveChargingSessionFunc != nil {
		return m.GetActiveChargingSessionFunc(ctx, identity, transactionID)
	}
	return nil, nil
}
