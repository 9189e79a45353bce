package v16

import (
	"fmt"
	"time"

	"github.com/seu-repo/ocpp-datum/internal/domain"
)

// OCPP 1.6 message types
const (
	CallMessage       = 2
	CallResultMessage = 3
	CallErrorMessage  = 4
)

// CallError codes used in responses.
const (
	ErrorCodeNotImplemented     = "NotImplemented"
	ErrorCodeFormationViolation = "FormationViolation"
	ErrorCodeInternalError      = "InternalError"
	ErrorCodePropertyConstraint = "PropertyConstraintViolation"
)

// Supported actions
const (
	ActionAuthorize          = "Authorize"
	ActionBootNotification   = "BootNotification"
	ActionHeartbeat          = "Heartbeat"
	ActionMeterValues        = "MeterValues"
	ActionStartTransaction   = "StartTransaction"
	ActionStatusNotification = "StatusNotification"
	ActionStopTransaction    = "StopTransaction"
)

// callError is returned by handlers to answer with a specific CallError code.
type callError struct {
	code string
	msg  string
}

func (e *callError) Error() string {
	return e.code + ": " + e.msg
}

func formationViolation(action string, err error) error {
	return &callError{code: ErrorCodeFormationViolation, msg: fmt.Sprintf("invalid %s: %v", action, err)}
}

type bootNotificationReq struct {
	ChargePointVendor string `json:"chargePointVendor"`
	ChargePointModel  string `json:"chargePointModel"`
	ChargePointSerial string `json:"chargePointSerialNumber,omitempty"`
	FirmwareVersion   string `json:"firmwareVersion,omitempty"`
}

type bootNotificationResp struct {
	Status      string `json:"status"`
	CurrentTime string `json:"currentTime"`
	Interval    int    `json:"interval"`
}

type heartbeatResp struct {
	CurrentTime string `json:"currentTime"`
}

type idTagInfo struct {
	Status      domain.AuthorizationStatus `json:"status"`
	ExpiryDate  string                     `json:"expiryDate,omitempty"`
	ParentIdTag string                     `json:"parentIdTag,omitempty"`
}

func newIdTagInfo(info *domain.AuthorizationInfo) idTagInfo {
	if info == nil {
		return idTagInfo{Status: domain.AuthorizationStatusInvalid}
	}
	out := idTagInfo{Status: info.Status, ParentIdTag: info.ParentID}
	if info.ExpiryDate != nil {
		out.ExpiryDate = info.ExpiryDate.UTC().Format(time.RFC3339)
	}
	return out
}

type authorizeReq struct {
	IdTag string `json:"idTag"`
}

type authorizeResp struct {
	IdTagInfo idTagInfo `json:"idTagInfo"`
}

type statusNotificationReq struct {
	ConnectorId     int    `json:"connectorId"`
	ErrorCode       string `json:"errorCode"`
	Info            string `json:"info,omitempty"`
	Status          string `json:"status"`
	Timestamp       string `json:"timestamp,omitempty"`
	VendorErrorCode string `json:"vendorErrorCode,omitempty"`
}

type startTransactionReq struct {
	ConnectorId   int    `json:"connectorId"`
	IdTag         string `json:"idTag"`
	MeterStart    int    `json:"meterStart"`
	Timestamp     string `json:"timestamp"`
	ReservationId *int   `json:"reservationId,omitempty"`
}

type startTransactionResp struct {
	TransactionId int       `json:"transactionId"`
	IdTagInfo     idTagInfo `json:"idTagInfo"`
}

type stopTransactionReq struct {
	TransactionId   int          `json:"transactionId"`
	MeterStop       int          `json:"meterStop"`
	Timestamp       string       `json:"timestamp"`
	IdTag           string       `json:"idTag,omitempty"`
	Reason          string       `json:"reason,omitempty"`
	TransactionData []meterValue `json:"transactionData,omitempty"`
}

type stopTransactionResp struct {
	IdTagInfo *idTagInfo `json:"idTagInfo,omitempty"`
}

type meterValuesReq struct {
	ConnectorId   int          `json:"connectorId"`
	TransactionId *int         `json:"transactionId,omitempty"`
	MeterValue    []meterValue `json:"meterValue"`
}

type meterValue struct {
	Timestamp    string         `json:"timestamp"`
	SampledValue []sampledValue `json:"sampledValue"`
}

type sampledValue struct {
	Value     string `json:"value"`
	Context   string `json:"context,omitempty"`
	Format    string `json:"format,omitempty"`
	Measurand string `json:"measurand,omitempty"`
	Phase     string `json:"phase,omitempty"`
	Location  string `json:"location,omitempty"`
	Unit      string `json:"unit,omitempty"`
}

type emptyResp struct{}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// toReadings flattens meter values into readings linked to sessionID, with
// OCPP defaults applied to omitted fields.
func toReadings(sessionID string, values []meterValue) ([]domain.SampledReading, error) {
	var out []domain.SampledReading
	for _, mv := range values {
		ts, err := parseTimestamp(mv.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("meter value timestamp: %w", err)
		}
		for _, sv := range mv.SampledValue {
			r := domain.SampledReading{
				SessionID: sessionID,
				Timestamp: ts,
				Context:   domain.ReadingContext(sv.Context),
				Format:    domain.ValueFormat(sv.Format),
				Measurand: domain.Measurand(sv.Measurand),
				Phase:     domain.Phase(sv.Phase),
				Location:  domain.Location(sv.Location),
				Unit:      domain.UnitOfMeasure(sv.Unit),
				Value:     sv.Value,
			}
			out = append(out, r.WithDefaults())
		}
	}
	return out, nil
}
