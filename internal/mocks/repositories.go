package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/seu-repo/ocpp-datum/internal/domain"
)

// MockChargePointRepository is a mock implementation of ChargePointRepository
type MockChargePointRepository struct {
	SaveFunc             func(ctx context.Context, cp *domain.ChargePoint) error
	FindByIDFunc         func(ctx context.Context, id string) (*domain.ChargePoint, error)
	FindByIdentityFunc   func(ctx context.Context, identity domain.ChargePointIdentity) (*domain.ChargePoint, error)
	FindByIdentifierFunc func(ctx context.Context, identifier string) (*domain.ChargePoint, error)
}

func (m *MockChargePointRepository) Save(ctx context.Context, cp *domain.ChargePoint) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, cp)
	}
	return nil
}

func (m *MockChargePointRepository) FindByID(ctx context.Context, id string) (*domain.ChargePoint, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockChargePointRepository) FindByIdentity(ctx context.Context, identity domain.ChargePointIdentity) (*domain.ChargePoint, error) {
	if m.FindByIdentityFunc != nil {
		return m.FindByIdentityFunc(ctx, identity)
	}
	return nil, nil
}

func (m *MockChargePointRepository) FindByIdentifier(ctx context.Context, identifier string) (*domain.ChargePoint, error) {
	if m.FindByIdentifierFunc != nil {
		return m.FindByIdentifierFunc(ctx, identifier)
	}
	return nil, nil
}

// MockChargePointSettingsRepository is a mock implementation of ChargePointSettingsRepository
type MockChargePointSettingsRepository struct {
	FindChargePointSettingsFunc func(ctx context.Context, chargePointID string) (*domain.ChargePointSettings, error)
	FindOwnerSettingsFunc       func(ctx context.Context, ownerID string) (*domain.OwnerSettings, error)
	SaveChargePointSettingsFunc func(ctx context.Context, s *domain.ChargePointSettings) error
	SaveOwnerSettingsFunc       func(ctx context.Context, s *domain.OwnerSettings) error
}

func (m *MockChargePointSettingsRepository) FindChargePointSettings(ctx context.Context, chargePointID string) (*domain.ChargePointSettings, error) {
	if m.FindChargePointSettingsFunc != nil {
		return m.FindChargePointSettingsFunc(ctx, chargePointID)
	}
	return nil, nil
}

func (m *MockChargePointSettingsRepository) FindOwnerSettings(ctx context.Context, ownerID string) (*domain.OwnerSettings, error) {
	if m.FindOwnerSettingsFunc != nil {
		return m.FindOwnerSettingsFunc(ctx, ownerID)
	}
	return nil, nil
}

func (m *MockChargePointSettingsRepository) SaveChargePointSettings(ctx context.Context, s *domain.ChargePointSettings) error {
	if m.SaveChargePointSettingsFunc != nil {
		return m.SaveChargePointSettingsFunc(ctx, s)
	}
	return nil
}

func (m *MockChargePointSettingsRepository) SaveOwnerSettings(ctx context.Context, s *domain.OwnerSettings) error {
	if m.SaveOwnerSettingsFunc != nil {
		return m.SaveOwnerSettingsFunc(ctx, s)
	}
	return nil
}

// MockChargeSessionRepository is a mock implementation of ChargeSessionRepository.
// Without overrides it behaves as an in-memory registry.
type MockChargeSessionRepository struct {
	GetIncompleteSessionForConnectorFunc   func(ctx context.Context, chargePointID string, connectorID int) (*domain.ChargeSession, error)
	GetIncompleteSessionForTransactionFunc func(ctx context.Context, chargePointID string, transactionID int) (*domain.ChargeSession, error)
	SaveFunc                               func(ctx context.Context, s *domain.ChargeSession) (string, error)
	GetFunc                                func(ctx context.Context, id string) (*domain.ChargeSession, error)
	AddReadingsFunc                        func(ctx context.Context, readings []domain.SampledReading) error
	FindReadingsForSessionFunc             func(ctx context.Context, sessionID string) ([]domain.SampledReading, error)

	mu        sync.Mutex
	Sessions  map[string]*domain.ChargeSession
	Readings  []domain.SampledReading
	SaveCalls int
	nextTxID  int
}

func NewMockChargeSessionRepository() *MockChargeSessionRepository {
	return &MockChargeSessionRepository{
		Sessions: make(map[string]*domain.ChargeSession),
		nextTxID: 1,
	}
}

func (m *MockChargeSessionRepository) GetIncompleteSessionForConnector(ctx context.Context, chargePointID string, connectorID int) (*domain.ChargeSession, error) {
	if m.GetIncompleteSessionForConnectorFunc != nil {
		return m.GetIncompleteSessionForConnectorFunc(ctx, chargePointID, connectorID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.Sessions {
		if s.ChargePointID == chargePointID && s.ConnectorID == connectorID && s.Ended == nil {
			c := *s
			return &c, nil
		}
	}
	return nil, nil
}

func (m *MockChargeSessionRepository) GetIncompleteSessionForTransaction(ctx context.Context, chargePointID string, transactionID int) (*domain.ChargeSession, error) {
	if m.GetIncompleteSessionForTransactionFunc != nil {
		return m.GetIncompleteSessionForTransactionFunc(ctx, chargePointID, transactionID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.Sessions {
		if s.ChargePointID == chargePointID && s.TransactionID == transactionID && s.Ended == nil {
			c := *s
			return &c, nil
		}
	}
	return nil, nil
}

// Save stores a copy of s. New sessions get the next transaction ID, which,
// like the database sequence, is only visible through Get.
func (m *MockChargeSessionRepository) Save(ctx context.Context, s *domain.ChargeSession) (string, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls++
	c := *s
	if prev, ok := m.Sessions[s.ID]; ok {
		c.TransactionID = prev.TransactionID
	} else {
		c.TransactionID = m.nextTxID
		m.nextTxID++
	}
	m.Sessions[s.ID] = &c
	return s.ID, nil
}

func (m *MockChargeSessionRepository) Get(ctx context.Context, id string) (*domain.ChargeSession, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.Sessions[id]; ok {
		c := *s
		return &c, nil
	}
	return nil, nil
}

func (m *MockChargeSessionRepository) AddReadings(ctx context.Context, readings []domain.SampledReading) error {
	if m.AddReadingsFunc != nil {
		return m.AddReadingsFunc(ctx, readings)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Readings = append(m.Readings, readings...)
	return nil
}

func (m *MockChargeSessionRepository) FindReadingsForSession(ctx context.Context, sessionID string) ([]domain.SampledReading, error) {
	if m.FindReadingsForSessionFunc != nil {
		return m.FindReadingsForSessionFunc(ctx, sessionID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SampledReading
	for _, r := range m.Readings {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out, nil
}

// MockAuthorizationRepository is a mock implementation of AuthorizationRepository
type MockAuthorizationRepository struct {
	FindByTokenFunc func(ctx context.Context, ownerID, token string) (*domain.Authorization, error)
	SaveFunc        func(ctx context.Context, a *domain.Authorization) error
}

func (m *MockAuthorizationRepository) FindByToken(ctx context.Context, ownerID, token string) (*domain.Authorization, error) {
	if m.FindByTokenFunc != nil {
		return m.FindByTokenFunc(ctx, ownerID, token)
	}
	return nil, nil
}

func (m *MockAuthorizationRepository) Save(ctx context.Context, a *domain.Authorization) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, a)
	}
	return nil
}

// MockDatumRepository is a mock implementation of DatumRepository
type MockDatumRepository struct {
	StoreFunc func(ctx context.Context, d *domain.Datum) (string, error)

	mu     sync.Mutex
	Stored []*domain.Datum
}

func (m *MockDatumRepository) Store(ctx context.Context, d *domain.Datum) (string, error) {
	if m.StoreFunc != nil {
		return m.StoreFunc(ctx, d)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Stored = append(m.Stored, d)
	return d.SourceID, nil
}

// StatusWrite is one call recorded by MockChargePointStatusRepository.
type StatusWrite struct {
	OwnerID        string
	Identifier     string
	ConnectedTo    string
	SessionID      string
	ConnectionDate time.Time
	Connected      bool
}

// MockChargePointStatusRepository is a mock implementation of ChargePointStatusRepository
type MockChargePointStatusRepository struct {
	UpdateConnectionStatusFunc func(ctx context.Context, ownerID, identifier, connectedTo, sessionID string, connectionDate time.Time, connected bool) error

	mu     sync.Mutex
	writes []StatusWrite
}

func (m *MockChargePointStatusRepository) UpdateConnectionStatus(ctx context.Context, ownerID, identifier, connectedTo, sessionID string, connectionDate time.Time, connected bool) error {
	m.mu.Lock()
	m.writes = append(m.writes, StatusWrite{
		OwnerID:        ownerID,
		Identifier:     identifier,
		ConnectedTo:    connectedTo,
		SessionID:      sessionID,
		ConnectionDate: connectionDate,
		Connected:      connected,
	})
	m.mu.Unlock()
	if m.UpdateConnectionStatusFunc != nil {
		return m.UpdateConnectionStatusFunc(ctx, ownerID, identifier, connectedTo, sessionID, connectionDate, connected)
	}
	return nil
}

// Writes returns the calls recorded so far.
func (m *MockChargePointStatusRepository) Writes() []StatusWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StatusWrite, len(m.writes))
	copy(out, m.writes)
	return out
}
