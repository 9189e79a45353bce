package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-datum/internal/domain"
	"github.com/seu-repo/ocpp-datum/internal/mocks"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type fixture struct {
	auth     *mocks.MockAuthorizationService
	cps      *mocks.MockChargePointService
	sessions *mocks.MockChargeSessionRepository
	store    *mocks.MockDatumRepository
	bus      *mocks.MockDatumPublisher
	settings *domain.ChargePointSettings
	manager  *Manager
}

var identity = domain.ChargePointIdentity{Identifier: "CP-1", OwnerID: "owner-1"}

func newFixture() *fixture {
	f := &fixture{
		auth:     &mocks.MockAuthorizationService{},
		sessions: mocks.NewMockChargeSessionRepository(),
		store:    &mocks.MockDatumRepository{},
		bus:      &mocks.MockDatumPublisher{Configured: true},
		settings: &domain.ChargePointSettings{
			ChargePointID:         "CP-1",
			OwnerID:               "owner-1",
			SourceIDTemplate:      domain.DefaultSourceIDTemplate,
			PublishToPrimaryStore: true,
			PublishToRealtimeBus:  true,
		},
	}
	f.cps = &mocks.MockChargePointService{
		GetChargePointFunc: func(ctx context.Context, id domain.ChargePointIdentity) (*domain.ChargePoint, error) {
			if id != identity {
				return nil, nil
			}
			return &domain.ChargePoint{ID: "CP-1", OwnerID: "owner-1", Identifier: "CP-1", Enabled: true}, nil
		},
		ResolveSettingsFunc: func(ctx context.Context, ownerID, chargePointID string) (*domain.ChargePointSettings, error) {
			return f.settings, nil
		},
	}
	f.manager = NewManager(f.auth, f.cps, f.sessions, f.store, f.bus, fixedClock{now: t0.Add(2 * time.Hour)}, newTestLogger())
	return f
}

func startInfo() domain.ChargeSessionStartInfo {
	return domain.ChargeSessionStartInfo{
		ChargePoint:     identity,
		AuthorizationID: "tok123",
		ConnectorID:     1,
		MeterStart:      1234,
		Timestamp:       t0,
	}
}

func TestStartChargingSession_Success(t *testing.T) {
	// Arrange
	f := newFixture()

	// Act
	sess, err := f.manager.StartChargingSession(context.Background(), startInfo())

	// Assert
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !sess.Created.Equal(t0) {
		t.Errorf("expected created %v, got %v", t0, sess.Created)
	}
	if sess.AuthID != "tok123" || sess.ConnectorID != 1 || sess.ChargePointID != "CP-1" {
		t.Errorf("unexpected session %+v", sess)
	}
	if sess.TransactionID == 0 {
		t.Error("expected transaction ID to be assigned")
	}

	if len(f.sessions.Readings) != 1 {
		t.Fatalf("expected 1 reading persisted, got %d", len(f.sessions.Readings))
	}
	r := f.sessions.Readings[0]
	if r.Context != domain.ReadingContextTransactionBegin || r.Location != domain.LocationOutlet || r.Value != "1234" {
		t.Errorf("unexpected reading %+v", r)
	}
	if r.SessionID != sess.ID {
		t.Errorf("expected reading linked to session %s, got %s", sess.ID, r.SessionID)
	}

	if len(f.store.Stored) != 1 {
		t.Fatalf("expected 1 datum stored, got %d", len(f.store.Stored))
	}
	d := f.store.Stored[0]
	if d.SourceID != "/protocol/cp/CP-1/1/Outlet" {
		t.Errorf("expected source '/protocol/cp/CP-1/1/Outlet', got '%s'", d.SourceID)
	}
	if d.Accumulating[domain.PropWattHours] != 1234 {
		t.Errorf("expected wattHours 1234, got %v", d.Accumulating[domain.PropWattHours])
	}
	if d.Status[domain.PropSessionID] != sess.ID {
		t.Errorf("expected sessionId %s, got %v", sess.ID, d.Status[domain.PropSessionID])
	}
	if d.Status[domain.PropTransactionID] != sess.TransactionID {
		t.Errorf("expected transactionId %d, got %v", sess.TransactionID, d.Status[domain.PropTransactionID])
	}

	if len(f.bus.Published) != 1 || f.bus.Published[0] != d {
		t.Error("expected the same datum to be published to the realtime bus")
	}
}

func TestStartChargingSession_ConcurrentTransaction(t *testing.T) {
	// Arrange
	f := newFixture()
	f.sessions.Sessions["existing"] = &domain.ChargeSession{
		ID:            "existing",
		ChargePointID: "CP-1",
		ConnectorID:   1,
		AuthID:        "other",
		TransactionID: 123,
		Created:       t0.Add(-time.Hour),
	}

	// Act
	sess, err := f.manager.StartChargingSession(context.Background(), startInfo())

	// Assert
	if sess != nil {
		t.Error("expected no session")
	}
	if !domain.IsConcurrentTx(err) {
		t.Fatalf("expected ConcurrentTx authorization error, got %v", err)
	}
	if f.sessions.SaveCalls != 0 {
		t.Errorf("expected no session saved, got %d saves", f.sessions.SaveCalls)
	}
	if len(f.sessions.Readings) != 0 {
		t.Errorf("expected no readings persisted, got %d", len(f.sessions.Readings))
	}
	if len(f.store.Stored) != 0 || len(f.bus.Published) != 0 {
		t.Error("expected nothing published")
	}
}

func TestStartChargingSession_LosesInsertRace(t *testing.T) {
	// Arrange
	f := newFixture()
	f.sessions.SaveFunc = func(ctx context.Context, s *domain.ChargeSession) (string, error) {
		return "", fmt.Errorf("%w: duplicate key value violates unique constraint", domain.ErrConnectorInUse)
	}

	// Act
	sess, err := f.manager.StartChargingSession(context.Background(), startInfo())

	// Assert
	if sess != nil {
		t.Error("expected no session")
	}
	if !domain.IsConcurrentTx(err) {
		t.Fatalf("expected ConcurrentTx authorization error, got %v", err)
	}
	var pe *domain.PersistenceError
	if errors.As(err, &pe) {
		t.Errorf("expected no persistence error, got %v", err)
	}
	if len(f.sessions.Readings) != 0 || len(f.store.Stored) != 0 || len(f.bus.Published) != 0 {
		t.Error("expected nothing persisted or published")
	}
}

func TestStartChargingSession_OtherConnectorIsFree(t *testing.T) {
	f := newFixture()
	f.sessions.Sessions["existing"] = &domain.ChargeSession{ID: "existing", ChargePointID: "CP-1", ConnectorID: 2, TransactionID: 9}

	if _, err := f.manager.StartChargingSession(context.Background(), startInfo()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestStartChargingSession_AuthorizationRejected(t *testing.T) {
	// Arrange
	f := newFixture()
	f.auth.AuthorizeFunc = func(ctx context.Context, id domain.ChargePointIdentity, idTag string) (*domain.AuthorizationInfo, error) {
		return &domain.AuthorizationInfo{ID: idTag, Status: domain.AuthorizationStatusBlocked}, nil
	}

	// Act
	_, err := f.manager.StartChargingSession(context.Background(), startInfo())

	// Assert
	var authErr *domain.AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if authErr.Reason != domain.AuthorizationStatusBlocked {
		t.Errorf("expected reason Blocked, got %s", authErr.Reason)
	}
	if domain.IsConcurrentTx(err) {
		t.Error("expected rejection not to be a concurrent transaction")
	}
	if f.sessions.SaveCalls != 0 {
		t.Error("expected no session saved")
	}
}

func TestStartChargingSession_AuthorizationFailure(t *testing.T) {
	f := newFixture()
	f.auth.AuthorizeFunc = func(ctx context.Context, id domain.ChargePointIdentity, idTag string) (*domain.AuthorizationInfo, error) {
		return nil, errors.New("cache unavailable")
	}

	_, err := f.manager.StartChargingSession(context.Background(), startInfo())

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var authErr *domain.AuthorizationError
	if errors.As(err, &authErr) {
		t.Error("expected infrastructure failure not to be an authorization error")
	}
}

func TestStartChargingSession_InvalidInfo(t *testing.T) {
	f := newFixture()
	info := startInfo()
	info.ConnectorID = 0

	_, err := f.manager.StartChargingSession(context.Background(), info)

	if !errors.Is(err, domain.ErrInvalidStartInfo) {
		t.Fatalf("expected ErrInvalidStartInfo, got %v", err)
	}
}

func TestStartChargingSession_UnknownChargePoint(t *testing.T) {
	f := newFixture()
	info := startInfo()
	info.ChargePoint = domain.ChargePointIdentity{Identifier: "CP-9", OwnerID: "owner-1"}

	_, err := f.manager.StartChargingSession(context.Background(), info)

	var cfgErr *domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !errors.Is(err, domain.ErrChargePointNotFound) {
		t.Errorf("expected ErrChargePointNotFound in chain, got %v", err)
	}
}

func TestStartChargingSession_MissingSettings(t *testing.T) {
	f := newFixture()
	f.settings = nil

	_, err := f.manager.StartChargingSession(context.Background(), startInfo())

	var cfgErr *domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestStartChargingSession_RealtimeFailureIsNotFatal(t *testing.T) {
	// Arrange
	f := newFixture()
	f.bus.ProcessDatumFunc = func(ctx context.Context, d *domain.Datum) bool {
		return false
	}

	// Act
	sess, err := f.manager.StartChargingSession(context.Background(), startInfo())

	// Assert
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if sess == nil {
		t.Fatal("expected session")
	}
	if len(f.store.Stored) != 1 {
		t.Errorf("expected datum stored, got %d", len(f.store.Stored))
	}
}

func TestStartChargingSession_PublishGates(t *testing.T) {
	tests := []struct {
		name      string
		primary   bool
		realtime  bool
		busReady  bool
		wantStore int
		wantBus   int
	}{
		{"both sinks", true, true, true, 1, 1},
		{"primary only", true, false, true, 1, 0},
		{"realtime only", false, true, true, 0, 1},
		{"realtime not configured", true, true, false, 1, 0},
		{"no sinks", false, false, true, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.settings.PublishToPrimaryStore = tt.primary
			f.settings.PublishToRealtimeBus = tt.realtime
			f.bus.Configured = tt.busReady

			if _, err := f.manager.StartChargingSession(context.Background(), startInfo()); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if len(f.store.Stored) != tt.wantStore {
				t.Errorf("expected %d stored, got %d", tt.wantStore, len(f.store.Stored))
			}
			if len(f.bus.Published) != tt.wantBus {
				t.Errorf("expected %d published, got %d", tt.wantBus, len(f.bus.Published))
			}
		})
	}
}

func TestStartChargingSession_PrimaryStoreFailure(t *testing.T) {
	f := newFixture()
	f.store.StoreFunc = func(ctx context.Context, d *domain.Datum) (string, error) {
		return "", errors.New("disk full")
	}

	_, err := f.manager.StartChargingSession(context.Background(), startInfo())

	var pErr *domain.PersistenceError
	if !errors.As(err, &pErr) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if pErr.Op != "store datum" {
		t.Errorf("expected op 'store datum', got '%s'", pErr.Op)
	}
	if len(f.bus.Published) != 0 {
		t.Error("expected nothing published after a primary store failure")
	}
}

func TestStartChargingSession_ReadingPersistFailureLeavesSession(t *testing.T) {
	// Arrange
	f := newFixture()
	f.sessions.AddReadingsFunc = func(ctx context.Context, readings []domain.SampledReading) error {
		return errors.New("connection reset")
	}

	// Act
	_, err := f.manager.StartChargingSession(context.Background(), startInfo())

	// Assert
	var pErr *domain.PersistenceError
	if !errors.As(err, &pErr) || pErr.Op != "add readings" {
		t.Fatalf("expected add readings persistence error, got %v", err)
	}
	if len(f.sessions.Sessions) != 1 {
		t.Fatalf("expected the saved session to remain, got %d", len(f.sessions.Sessions))
	}
	if len(f.store.Stored) != 0 {
		t.Error("expected no datum stored")
	}

	// the session stays active and can be ended normally
	var txID int
	for _, s := range f.sessions.Sessions {
		txID = s.TransactionID
	}
	f.sessions.AddReadingsFunc = nil
	err = f.manager.EndChargingSession(context.Background(), domain.ChargeSessionEndInfo{
		ChargePoint:   identity,
		TransactionID: txID,
		MeterEnd:      2000,
		Timestamp:     t0.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("expected end to succeed, got %v", err)
	}
}

func TestEndChargingSession_Success(t *testing.T) {
	// Arrange
	f := newFixture()
	ctx := context.Background()
	sess, err := f.manager.StartChargingSession(ctx, startInfo())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	ended := t0.Add(90 * time.Minute)

	// Act
	err = f.manager.EndChargingSession(ctx, domain.ChargeSessionEndInfo{
		ChargePoint:     identity,
		AuthorizationID: "tok456",
		TransactionID:   sess.TransactionID,
		MeterEnd:        4321,
		Timestamp:       ended,
		Reason:          domain.ChargeSessionEndReasonEVDisconnected,
	})

	// Assert
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	saved := f.sessions.Sessions[sess.ID]
	if saved.Ended == nil || !saved.Ended.Equal(ended) {
		t.Errorf("expected ended %v, got %v", ended, saved.Ended)
	}
	if saved.Posted == nil || !saved.Posted.Equal(t0.Add(2*time.Hour)) {
		t.Errorf("expected posted from clock, got %v", saved.Posted)
	}
	if saved.EndAuthID != "tok456" {
		t.Errorf("expected end auth 'tok456', got '%s'", saved.EndAuthID)
	}
	if len(f.sessions.Readings) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(f.sessions.Readings))
	}
	if f.sessions.Readings[1].Context != domain.ReadingContextTransactionEnd {
		t.Errorf("expected closing reading, got %s", f.sessions.Readings[1].Context)
	}

	if len(f.store.Stored) != 2 {
		t.Fatalf("expected 2 datum stored, got %d", len(f.store.Stored))
	}
	d := f.store.Stored[1]
	want := map[string]any{
		domain.PropSessionID:     sess.ID,
		domain.PropTransactionID: sess.TransactionID,
		domain.PropAuthToken:     "tok123",
		domain.PropDuration:      int64(5400),
		domain.PropEndDate:       ended.UnixMilli(),
		domain.PropEndReason:     "EVDisconnected",
		domain.PropEndAuthToken:  "tok456",
		domain.PropSessionEnergy: 3087.0,
	}
	for k, v := range want {
		if d.Status[k] != v {
			t.Errorf("expected status %s=%v, got %v", k, v, d.Status[k])
		}
	}
	if d.Accumulating[domain.PropWattHours] != 4321 {
		t.Errorf("expected wattHours 4321, got %v", d.Accumulating[domain.PropWattHours])
	}
}

func TestEndChargingSession_Twice(t *testing.T) {
	// Arrange
	f := newFixture()
	ctx := context.Background()
	sess, err := f.manager.StartChargingSession(ctx, startInfo())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	info := domain.ChargeSessionEndInfo{
		ChargePoint:   identity,
		TransactionID: sess.TransactionID,
		MeterEnd:      2000,
		Timestamp:     t0.Add(time.Hour),
	}

	// Act
	first := f.manager.EndChargingSession(ctx, info)
	second := f.manager.EndChargingSession(ctx, info)

	// Assert
	if first != nil {
		t.Fatalf("expected first end to succeed, got %v", first)
	}
	if !errors.Is(second, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", second)
	}
	if got := f.sessions.Sessions[sess.ID].EndReason; got != domain.ChargeSessionEndReasonLocal {
		t.Errorf("expected default reason Local, got %s", got)
	}
}

func TestEndChargingSession_WithTransactionData(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sess, err := f.manager.StartChargingSession(ctx, startInfo())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	ended := t0.Add(time.Hour)

	err = f.manager.EndChargingSession(ctx, domain.ChargeSessionEndInfo{
		ChargePoint:   identity,
		TransactionID: sess.TransactionID,
		MeterEnd:      5000,
		Timestamp:     ended,
		TransactionData: []domain.SampledReading{
			{Timestamp: t0.Add(30 * time.Minute), Measurand: domain.MeasurandPowerActiveImport, Unit: domain.UnitW, Value: "7200"},
		},
	})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(f.sessions.Readings) != 3 {
		t.Fatalf("expected 3 readings, got %d", len(f.sessions.Readings))
	}
	for _, r := range f.sessions.Readings {
		if r.SessionID != sess.ID {
			t.Errorf("expected reading linked to %s, got %s", sess.ID, r.SessionID)
		}
	}
	// start datum, mid-session datum, closing datum
	if len(f.store.Stored) != 3 {
		t.Fatalf("expected 3 datum stored, got %d", len(f.store.Stored))
	}
	if _, ok := f.store.Stored[1].Status[domain.PropDuration]; ok {
		t.Error("expected only the closing datum to carry end properties")
	}
	if f.store.Stored[2].Status[domain.PropDuration] != int64(3600) {
		t.Errorf("expected duration 3600, got %v", f.store.Stored[2].Status[domain.PropDuration])
	}
}

func TestAddChargingSessionReadings(t *testing.T) {
	// Arrange
	f := newFixture()
	ctx := context.Background()
	sess, err := f.manager.StartChargingSession(ctx, startInfo())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	ts := t0.Add(5 * time.Minute)
	readings := []domain.SampledReading{
		{SessionID: sess.ID, Timestamp: ts, Measurand: domain.MeasurandVoltage, Phase: domain.PhaseL1N, Unit: domain.UnitV, Value: "230.1"},
		{SessionID: sess.ID, Timestamp: ts, Value: "1500"},
		{SessionID: sess.ID, Timestamp: ts, Measurand: domain.MeasurandTemperature, Location: domain.LocationBody, Unit: domain.UnitK, Value: "305.6"},
		{Timestamp: ts, Measurand: domain.MeasurandFrequency, Unit: "", Value: "50.0"},
	}

	// Act
	err = f.manager.AddChargingSessionReadings(ctx, identity, readings)

	// Assert
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	// the begin reading plus the three session readings
	if len(f.sessions.Readings) != 4 {
		t.Errorf("expected 4 readings persisted, got %d", len(f.sessions.Readings))
	}

	// start datum, session-less outlet datum, session body and outlet datum
	if len(f.store.Stored) != 4 {
		t.Fatalf("expected 4 datum stored, got %d", len(f.store.Stored))
	}
	bySource := make(map[string]*domain.Datum)
	for _, d := range f.store.Stored[1:] {
		bySource[d.SourceID] = d
	}
	outlet := bySource["/protocol/cp/CP-1/1/Outlet"]
	if outlet == nil {
		t.Fatal("expected outlet datum")
	}
	if outlet.Instantaneous["voltage_a"] != 230.1 || outlet.Accumulating["wattHours"] != 1500 {
		t.Errorf("unexpected outlet datum %+v", outlet)
	}
	if outlet.Status[domain.PropSessionID] != sess.ID {
		t.Errorf("expected sessionId on outlet datum")
	}
	body := bySource["/protocol/cp/CP-1/1/Body"]
	if body == nil || body.Instantaneous["temp"] != 32.5 {
		t.Errorf("expected body temperature 32.5, got %+v", body)
	}
	loose := bySource["/protocol/cp/CP-1/0/Outlet"]
	if loose == nil {
		t.Fatal("expected session-less datum")
	}
	if len(loose.Status) != 0 {
		t.Errorf("expected no status on session-less datum, got %v", loose.Status)
	}
}

func TestAddChargingSessionReadings_Empty(t *testing.T) {
	f := newFixture()
	f.cps.GetChargePointFunc = func(ctx context.Context, id domain.ChargePointIdentity) (*domain.ChargePoint, error) {
		t.Fatal("expected no lookup for an empty batch")
		return nil, nil
	}

	if err := f.manager.AddChargingSessionReadings(context.Background(), identity, nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestGetActiveChargingSession(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sess, err := f.manager.StartChargingSession(ctx, startInfo())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	got, err := f.manager.GetActiveChargingSession(ctx, identity, sess.TransactionID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.ID != sess.ID {
		t.Errorf("expected session %s, got %s", sess.ID, got.ID)
	}

	if _, err := f.manager.GetActiveChargingSession(ctx, identity, 999); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}
