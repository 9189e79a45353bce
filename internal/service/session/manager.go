package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-datum/internal/domain"
	"github.com/seu-repo/ocpp-datum/internal/observability/telemetry"
	"github.com/seu-repo/ocpp-datum/internal/ports"
	"github.com/seu-repo/ocpp-datum/internal/service/datum"
)

// Manager runs the charge session lifecycle and turns the readings of each
// event into published datum.
type Manager struct {
	auth         ports.AuthorizationService
	chargePoints ports.ChargePointService
	sessions     ports.ChargeSessionRepository
	datumStore   ports.DatumRepository
	realtime     ports.DatumPublisher
	consolidator *datum.Consolidator
	clock        ports.Clock
	tracer       trace.Tracer
	log          *zap.Logger
}

func NewManager(
	auth ports.AuthorizationService,
	chargePoints ports.ChargePointService,
	sessions ports.ChargeSessionRepository,
	datumStore ports.DatumRepository,
	realtime ports.DatumPublisher,
	clock ports.Clock,
	log *zap.Logger,
) *Manager {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Manager{
		auth:         auth,
		chargePoints: chargePoints,
		sessions:     sessions,
		datumStore:   datumStore,
		realtime:     realtime,
		consolidator: datum.NewConsolidator(log),
		clock:        clock,
		tracer:       otel.Tracer(telemetry.TracerName),
		log:          log,
	}
}

var _ ports.ChargeSessionManager = (*Manager)(nil)

func (m *Manager) StartChargingSession(ctx context.Context, info domain.ChargeSessionStartInfo) (sess *domain.ChargeSession, err error) {
	ctx, span := m.tracer.Start(ctx, "session.StartChargingSession", trace.WithAttributes(
		attribute.String("charge_point.identifier", info.ChargePoint.Identifier),
		attribute.Int("connector_id", info.ConnectorID),
	))
	defer func() { endSpan(span, err) }()

	if info.ConnectorID < 1 || info.AuthorizationID == "" {
		return nil, domain.ErrInvalidStartInfo
	}

	authInfo, err := m.auth.Authorize(ctx, info.ChargePoint, info.AuthorizationID)
	if err != nil {
		return nil, fmt.Errorf("authorize %q: %w", info.AuthorizationID, err)
	}
	if !authInfo.IsAccepted() {
		reason := domain.AuthorizationStatusInvalid
		if authInfo != nil {
			reason = authInfo.Status
		}
		telemetry.ChargingSessionsRejected.WithLabelValues(string(reason)).Inc()
		m.log.Info("Charge session start not authorized",
			zap.String("identifier", info.ChargePoint.Identifier),
			zap.String("id_tag", info.AuthorizationID),
			zap.String("reason", string(reason)),
		)
		return nil, &domain.AuthorizationError{IdTag: info.AuthorizationID, Reason: reason}
	}

	cp, settings, err := m.resolve(ctx, info.ChargePoint)
	if err != nil {
		return nil, err
	}

	existing, err := m.sessions.GetIncompleteSessionForConnector(ctx, cp.ID, info.ConnectorID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "find incomplete session", Err: err}
	}
	if existing != nil {
		m.log.Warn("Connector already has an active charge session",
			zap.String("charge_point_id", cp.ID),
			zap.Int("connector_id", info.ConnectorID),
			zap.Int("transaction_id", existing.TransactionID),
		)
		return nil, concurrentTx(info)
	}

	created := info.Timestamp
	if created.IsZero() {
		created = m.clock.Now()
	}
	id, err := m.sessions.Save(ctx, &domain.ChargeSession{
		ID:            uuid.New().String(),
		ChargePointID: cp.ID,
		ConnectorID:   info.ConnectorID,
		AuthID:        info.AuthorizationID,
		Created:       created,
	})
	if errors.Is(err, domain.ErrConnectorInUse) {
		// lost a race with another start on the same connector
		m.log.Warn("Concurrent start rejected by the session store",
			zap.String("charge_point_id", cp.ID),
			zap.Int("connector_id", info.ConnectorID),
		)
		return nil, concurrentTx(info)
	}
	if err != nil {
		return nil, &domain.PersistenceError{Op: "save charge session", Err: err}
	}

	// the transaction ID is only assigned once the session is stored
	sess, err = m.sessions.Get(ctx, id)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "reload charge session", Err: err}
	}
	if sess == nil {
		return nil, &domain.PersistenceError{Op: "reload charge session", Err: domain.ErrSessionNotFound}
	}
	span.SetAttributes(attribute.Int("transaction_id", sess.TransactionID))

	begin := meterReading(sess.ID, created, domain.ReadingContextTransactionBegin, info.MeterStart)
	if err := m.addReadings(ctx, []domain.SampledReading{begin}); err != nil {
		return nil, err
	}

	result := m.consolidator.Consolidate(datum.ConsolidateRequest{
		ChargePoint: cp,
		Settings:    settings,
		Session:     sess,
		Readings:    []domain.SampledReading{begin},
	})
	if err := m.publish(ctx, settings, result); err != nil {
		return nil, err
	}

	telemetry.ChargingSessionsStarted.Inc()
	m.log.Info("Charge session started",
		zap.String("session_id", sess.ID),
		zap.String("charge_point_id", cp.ID),
		zap.Int("connector_id", sess.ConnectorID),
		zap.Int("transaction_id", sess.TransactionID),
	)
	return sess, nil
}

func concurrentTx(info domain.ChargeSessionStartInfo) error {
	telemetry.ChargingSessionsRejected.WithLabelValues(string(domain.AuthorizationStatusConcurrentTx)).Inc()
	return &domain.AuthorizationError{IdTag: info.AuthorizationID, Reason: domain.AuthorizationStatusConcurrentTx}
}

func (m *Manager) EndChargingSession(ctx context.Context, info domain.ChargeSessionEndInfo) (err error) {
	ctx, span := m.tracer.Start(ctx, "session.EndChargingSession", trace.WithAttributes(
		attribute.String("charge_point.identifier", info.ChargePoint.Identifier),
		attribute.Int("transaction_id", info.TransactionID),
	))
	defer func() { endSpan(span, err) }()

	cp, settings, err := m.resolve(ctx, info.ChargePoint)
	if err != nil {
		return err
	}

	sess, err := m.sessions.GetIncompleteSessionForTransaction(ctx, cp.ID, info.TransactionID)
	if err != nil {
		return &domain.PersistenceError{Op: "find incomplete session", Err: err}
	}
	if sess == nil {
		m.log.Warn("No active charge session for transaction",
			zap.String("charge_point_id", cp.ID),
			zap.Int("transaction_id", info.TransactionID),
		)
		return fmt.Errorf("transaction %d: %w", info.TransactionID, domain.ErrSessionNotFound)
	}

	now := m.clock.Now()
	ended := info.Timestamp
	if ended.IsZero() {
		ended = now
	}
	sess.Ended = &ended
	sess.EndAuthID = info.AuthorizationID
	sess.EndReason = info.Reason
	if sess.EndReason == "" {
		sess.EndReason = domain.ChargeSessionEndReasonLocal
	}
	sess.Posted = &now
	if _, err := m.sessions.Save(ctx, sess); err != nil {
		return &domain.PersistenceError{Op: "save charge session", Err: err}
	}

	history, err := m.sessions.FindReadingsForSession(ctx, sess.ID)
	if err != nil {
		return &domain.PersistenceError{Op: "find session readings", Err: err}
	}

	readings := make([]domain.SampledReading, 0, len(info.TransactionData)+1)
	for _, r := range info.TransactionData {
		r.SessionID = sess.ID
		readings = append(readings, r.WithDefaults())
	}
	readings = append(readings, meterReading(sess.ID, ended, domain.ReadingContextTransactionEnd, info.MeterEnd))
	if err := m.addReadings(ctx, readings); err != nil {
		return err
	}

	result := m.consolidator.Consolidate(datum.ConsolidateRequest{
		ChargePoint: cp,
		Settings:    settings,
		Session:     sess,
		Readings:    readings,
		History:     append(history, readings...),
	})
	if err := m.publish(ctx, settings, result); err != nil {
		return err
	}

	telemetry.ChargingSessionsEnded.Inc()
	m.log.Info("Charge session ended",
		zap.String("session_id", sess.ID),
		zap.Int("transaction_id", sess.TransactionID),
		zap.String("reason", string(sess.EndReason)),
		zap.Duration("duration", ended.Sub(sess.Created)),
	)
	return nil
}

func (m *Manager) AddChargingSessionReadings(ctx context.Context, identity domain.ChargePointIdentity, readings []domain.SampledReading) (err error) {
	if len(readings) == 0 {
		return nil
	}
	ctx, span := m.tracer.Start(ctx, "session.AddChargingSessionReadings", trace.WithAttributes(
		attribute.String("charge_point.identifier", identity.Identifier),
		attribute.Int("readings", len(readings)),
	))
	defer func() { endSpan(span, err) }()

	cp, settings, err := m.resolve(ctx, identity)
	if err != nil {
		return err
	}

	bySession := make(map[string][]domain.SampledReading)
	for _, r := range readings {
		bySession[r.SessionID] = append(bySession[r.SessionID], r.WithDefaults())
	}
	sessionIDs := make([]string, 0, len(bySession))
	for id := range bySession {
		sessionIDs = append(sessionIDs, id)
	}
	sort.Strings(sessionIDs)

	for _, id := range sessionIDs {
		group := bySession[id]
		var sess *domain.ChargeSession
		if id != "" {
			sess, err = m.sessions.Get(ctx, id)
			if err != nil {
				return &domain.PersistenceError{Op: "load charge session", Err: err}
			}
			if sess == nil {
				m.log.Warn("Readings reference unknown charge session",
					zap.String("session_id", id),
					zap.String("charge_point_id", cp.ID),
				)
			} else if err := m.addReadings(ctx, group); err != nil {
				return err
			}
		}

		result := m.consolidator.Consolidate(datum.ConsolidateRequest{
			ChargePoint: cp,
			Settings:    settings,
			Session:     sess,
			Readings:    group,
		})
		if err := m.publish(ctx, settings, result); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) GetActiveChargingSession(ctx context.Context, identity domain.ChargePointIdentity, transactionID int) (*domain.ChargeSession, error) {
	cp, err := m.chargePoint(ctx, identity)
	if err != nil {
		return nil, err
	}
	sess, err := m.sessions.GetIncompleteSessionForTransaction(ctx, cp.ID, transactionID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "find incomplete session", Err: err}
	}
	if sess == nil {
		return nil, fmt.Errorf("transaction %d: %w", transactionID, domain.ErrSessionNotFound)
	}
	return sess, nil
}

func (m *Manager) chargePoint(ctx context.Context, identity domain.ChargePointIdentity) (*domain.ChargePoint, error) {
	cp, err := m.chargePoints.GetChargePoint(ctx, identity)
	if err != nil {
		return nil, &domain.ConfigurationError{Identity: identity, Msg: "charge point lookup failed", Err: err}
	}
	if cp == nil {
		return nil, &domain.ConfigurationError{Identity: identity, Msg: "charge point not available", Err: domain.ErrChargePointNotFound}
	}
	return cp, nil
}

func (m *Manager) resolve(ctx context.Context, identity domain.ChargePointIdentity) (*domain.ChargePoint, *domain.ChargePointSettings, error) {
	cp, err := m.chargePoint(ctx, identity)
	if err != nil {
		return nil, nil, err
	}
	settings, err := m.chargePoints.ResolveSettings(ctx, cp.OwnerID, cp.ID)
	if err != nil {
		return nil, nil, &domain.ConfigurationError{Identity: identity, Msg: "settings lookup failed", Err: err}
	}
	if settings == nil {
		return nil, nil, &domain.ConfigurationError{Identity: identity, Msg: "no settings configured"}
	}
	return cp, settings, nil
}

func (m *Manager) addReadings(ctx context.Context, readings []domain.SampledReading) error {
	sorted := make([]domain.SampledReading, len(readings))
	copy(sorted, readings)
	domain.SortReadings(sorted)
	if err := m.sessions.AddReadings(ctx, sorted); err != nil {
		return &domain.PersistenceError{Op: "add readings", Err: err}
	}
	telemetry.ReadingsRecorded.Add(float64(len(sorted)))
	return nil
}

// publish sends each datum to the sinks enabled in settings. Only a primary
// store failure is returned.
func (m *Manager) publish(ctx context.Context, settings *domain.ChargePointSettings, result []*domain.Datum) error {
	realtime := settings.PublishToRealtimeBus && m.realtime != nil && m.realtime.IsConfigured()
	for _, d := range result {
		if settings.PublishToPrimaryStore {
			if _, err := m.datumStore.Store(ctx, d); err != nil {
				telemetry.DatumPublished.WithLabelValues("primary", "error").Inc()
				return &domain.PersistenceError{Op: "store datum", Err: err}
			}
			telemetry.DatumPublished.WithLabelValues("primary", "success").Inc()
		}
		if realtime {
			if m.realtime.ProcessDatum(ctx, d) {
				telemetry.DatumPublished.WithLabelValues("realtime", "success").Inc()
			} else {
				telemetry.DatumPublished.WithLabelValues("realtime", "error").Inc()
				m.log.Warn("Failed to publish datum to realtime bus",
					zap.String("source_id", d.SourceID),
					zap.Time("created", d.Created),
				)
			}
		}
	}
	return nil
}

func meterReading(sessionID string, ts time.Time, readingCtx domain.ReadingContext, value int) domain.SampledReading {
	return domain.SampledReading{
		SessionID: sessionID,
		Timestamp: ts,
		Context:   readingCtx,
		Format:    domain.ValueFormatRaw,
		Measurand: domain.MeasurandEnergyActiveImportRegister,
		Location:  domain.LocationOutlet,
		Unit:      domain.UnitWh,
		Value:     strconv.Itoa(value),
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
