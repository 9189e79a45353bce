package v16

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-datum/internal/domain"
	"github.com/seu-repo/ocpp-datum/internal/observability/telemetry"
	"github.com/seu-repo/ocpp-datum/internal/ports"
)

// Handlers processes OCPP 1.6 messages from charge points
type Handlers struct {
	chargePoints      ports.ChargePointRepository
	cached            ports.ChargePointService
	auth              ports.AuthorizationService
	sessions          ports.ChargeSessionManager
	clock             ports.Clock
	heartbeatInterval int
	log               *zap.Logger
}

// NewHandlers creates a new OCPP 1.6 message handler
func NewHandlers(chargePoints ports.ChargePointRepository, cached ports.ChargePointService, auth ports.AuthorizationService, sessions ports.ChargeSessionManager, clock ports.Clock, heartbeatInterval int, log *zap.Logger) *Handlers {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if heartbeatInterval <= 0 {
		heartbeatInterval = 300
	}
	return &Handlers{
		chargePoints:      chargePoints,
		cached:            cached,
		auth:              auth,
		sessions:          sessions,
		clock:             clock,
		heartbeatInterval: heartbeatInterval,
		log:               log,
	}
}

// HandleMessage routes an OCPP 1.6 action to the appropriate handler
func (h *Handlers) HandleMessage(ctx context.Context, cp *domain.ChargePoint, action string, payload json.RawMessage) (interface{}, error) {
	telemetry.OCPPMessagesTotal.WithLabelValues(action, "in").Inc()

	switch action {
	case ActionBootNotification:
		return h.handleBootNotification(ctx, cp, payload)
	case ActionHeartbeat:
		return h.handleHeartbeat(cp)
	case ActionStatusNotification:
		return h.handleStatusNotification(cp, payload)
	case ActionAuthorize:
		return h.handleAuthorize(ctx, cp, payload)
	case ActionStartTransaction:
		return h.handleStartTransaction(ctx, cp, payload)
	case ActionStopTransaction:
		return h.handleStopTransaction(ctx, cp, payload)
	case ActionMeterValues:
		return h.handleMeterValues(ctx, cp, payload)
	default:
		h.log.Warn("Unknown OCPP 1.6 action", zap.String("action", action))
		return nil, &callError{code: ErrorCodeNotImplemented, msg: "action " + action + " is not supported"}
	}
}

func (h *Handlers) now() string {
	return h.clock.Now().UTC().Format(time.RFC3339)
}

func (h *Handlers) handleBootNotification(ctx context.Context, cp *domain.ChargePoint, payload json.RawMessage) (interface{}, error) {
	var req bootNotificationReq
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, formationViolation(ActionBootNotification, err)
	}

	h.log.Info("OCPP 1.6 BootNotification",
		zap.String("identifier", cp.Identifier),
		zap.String("vendor", req.ChargePointVendor),
		zap.String("model", req.ChargePointModel),
	)

	updated := *cp
	updated.Vendor = req.ChargePointVendor
	updated.Model = req.ChargePointModel
	updated.SerialNumber = req.ChargePointSerial
	updated.FirmwareVersion = req.FirmwareVersion
	if updated != *cp {
		if err := h.chargePoints.Save(ctx, &updated); err != nil {
			h.log.Warn("Failed to update charge point on boot", zap.String("identifier", cp.Identifier), zap.Error(err))
		} else {
			*cp = updated
			if h.cached != nil {
				h.cached.Invalidate(ctx, cp)
			}
		}
	}

	return bootNotificationResp{
		Status:      "Accepted",
		CurrentTime: h.now(),
		Interval:    h.heartbeatInterval,
	}, nil
}

func (h *Handlers) handleHeartbeat(cp *domain.ChargePoint) (interface{}, error) {
	h.log.Debug("OCPP 1.6 Heartbeat", zap.String("identifier", cp.Identifier))
	return heartbeatResp{CurrentTime: h.now()}, nil
}

func (h *Handlers) handleStatusNotification(cp *domain.ChargePoint, payload json.RawMessage) (interface{}, error) {
	var req statusNotificationReq
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, formationViolation(ActionStatusNotification, err)
	}

	h.log.Info("OCPP 1.6 StatusNotification",
		zap.String("identifier", cp.Identifier),
		zap.Int("connector_id", req.ConnectorId),
		zap.String("status", req.Status),
		zap.String("error_code", req.ErrorCode),
	)
	return emptyResp{}, nil
}

func (h *Handlers) handleAuthorize(ctx context.Context, cp *domain.ChargePoint, payload json.RawMessage) (interface{}, error) {
	var req authorizeReq
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, formationViolation(ActionAuthorize, err)
	}

	info, err := h.auth.Authorize(ctx, cp.Identity(), req.IdTag)
	if err != nil {
		return nil, err
	}

	h.log.Info("OCPP 1.6 Authorize",
		zap.String("identifier", cp.Identifier),
		zap.String("id_tag", req.IdTag),
		zap.String("status", string(newIdTagInfo(info).Status)),
	)
	return authorizeResp{IdTagInfo: newIdTagInfo(info)}, nil
}

func (h *Handlers) handleStartTransaction(ctx context.Context, cp *domain.ChargePoint, payload json.RawMessage) (interface{}, error) {
	var req startTransactionReq
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, formationViolation(ActionStartTransaction, err)
	}
	ts, err := parseTimestamp(req.Timestamp)
	if err != nil {
		return nil, formationViolation(ActionStartTransaction, err)
	}

	h.log.Info("OCPP 1.6 StartTransaction",
		zap.String("identifier", cp.Identifier),
		zap.Int("connector_id", req.ConnectorId),
		zap.String("id_tag", req.IdTag),
	)

	session, err := h.sessions.StartChargingSession(ctx, domain.ChargeSessionStartInfo{
		ChargePoint:     cp.Identity(),
		AuthorizationID: req.IdTag,
		ConnectorID:     req.ConnectorId,
		MeterStart:      req.MeterStart,
		Timestamp:       ts,
		ReservationID:   req.ReservationId,
	})
	if err != nil {
		var authErr *domain.AuthorizationError
		switch {
		case errors.As(err, &authErr):
			return startTransactionResp{IdTagInfo: idTagInfo{Status: authErr.Reason}}, nil
		case errors.Is(err, domain.ErrInvalidStartInfo):
			return nil, &callError{code: ErrorCodePropertyConstraint, msg: err.Error()}
		default:
			return nil, err
		}
	}

	return startTransactionResp{
		TransactionId: session.TransactionID,
		IdTagInfo:     idTagInfo{Status: domain.AuthorizationStatusAccepted},
	}, nil
}

func (h *Handlers) handleStopTransaction(ctx context.Context, cp *domain.ChargePoint, payload json.RawMessage) (interface{}, error) {
	var req stopTransactionReq
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, formationViolation(ActionStopTransaction, err)
	}
	ts, err := parseTimestamp(req.Timestamp)
	if err != nil {
		return nil, formationViolation(ActionStopTransaction, err)
	}
	data, err := toReadings("", req.TransactionData)
	if err != nil {
		return nil, formationViolation(ActionStopTransaction, err)
	}

	h.log.Info("OCPP 1.6 StopTransaction",
		zap.String("identifier", cp.Identifier),
		zap.Int("transaction_id", req.TransactionId),
		zap.Int("meter_stop", req.MeterStop),
	)

	err = h.sessions.EndChargingSession(ctx, domain.ChargeSessionEndInfo{
		ChargePoint:     cp.Identity(),
		AuthorizationID: req.IdTag,
		TransactionID:   req.TransactionId,
		MeterEnd:        req.MeterStop,
		Timestamp:       ts,
		Reason:          domain.ParseChargeSessionEndReason(req.Reason),
		TransactionData: data,
	})
	// A stop for an unknown transaction is still confirmed so the charge
	// point can discard it.
	if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		return nil, err
	}

	resp := stopTransactionResp{}
	if req.IdTag != "" {
		info, err := h.auth.Authorize(ctx, cp.Identity(), req.IdTag)
		if err != nil {
			h.log.Warn("Failed to authorize stop id tag", zap.String("id_tag", req.IdTag), zap.Error(err))
		} else {
			tag := newIdTagInfo(info)
			resp.IdTagInfo = &tag
		}
	}
	return resp, nil
}

func (h *Handlers) handleMeterValues(ctx context.Context, cp *domain.ChargePoint, payload json.RawMessage) (interface{}, error) {
	var req meterValuesReq
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, formationViolation(ActionMeterValues, err)
	}

	identity := cp.Identity()
	sessionID := ""
	if req.TransactionId != nil {
		session, err := h.sessions.GetActiveChargingSession(ctx, identity, *req.TransactionId)
		if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
			return nil, err
		}
		if session != nil {
			sessionID = session.ID
		} else {
			// Late values after StopTransaction still become datum.
			h.log.Warn("Meter values for unknown transaction",
				zap.String("identifier", cp.Identifier),
				zap.Int("transaction_id", *req.TransactionId),
			)
		}
	}

	readings, err := toReadings(sessionID, req.MeterValue)
	if err != nil {
		return nil, formationViolation(ActionMeterValues, err)
	}

	h.log.Debug("OCPP 1.6 MeterValues",
		zap.String("identifier", cp.Identifier),
		zap.Int("connector_id", req.ConnectorId),
		zap.Int("readings", len(readings)),
	)

	if err := h.sessions.AddChargingSessionReadings(ctx, identity, readings); err != nil {
		return nil, err
	}
	return emptyResp{}, nil
}
