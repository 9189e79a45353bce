package domain

import (
	"time"
)

// ChargeSessionEndReason is the OCPP 1.6 stop reason reported for a session.
type ChargeSessionEndReason string

const (
	ChargeSessionEndReasonUnknown        ChargeSessionEndReason = "Unknown"
	ChargeSessionEndReasonEmergencyStop  ChargeSessionEndReason = "EmergencyStop"
	ChargeSessionEndReasonEVDisconnected ChargeSessionEndReason = "EVDisconnected"
	ChargeSessionEndReasonHardReset      ChargeSessionEndReason = "HardReset"
	ChargeSessionEndReasonLocal          ChargeSessionEndReason = "Local"
	ChargeSessionEndReasonOther          ChargeSessionEndReason = "Other"
	ChargeSessionEndReasonPowerLoss      ChargeSessionEndReason = "PowerLoss"
	ChargeSessionEndReasonReboot         ChargeSessionEndReason = "Reboot"
	ChargeSessionEndReasonRemote         ChargeSessionEndReason = "Remote"
	ChargeSessionEndReasonSoftReset      ChargeSessionEndReason = "SoftReset"
	ChargeSessionEndReasonUnlockCommand  ChargeSessionEndReason = "UnlockCommand"
	ChargeSessionEndReasonDeAuthorized   ChargeSessionEndReason = "DeAuthorized"
)

// ParseChargeSessionEndReason maps a protocol reason to the enum; an empty
// reason means Local per OCPP 1.6, anything unrecognised is Unknown.
func ParseChargeSessionEndReason(s string) ChargeSessionEndReason {
	switch r := ChargeSessionEndReason(s); r {
	case "":
		return ChargeSessionEndReasonLocal
	case ChargeSessionEndReasonEmergencyStop, ChargeSessionEndReasonEVDisconnected,
		ChargeSessionEndReasonHardReset, ChargeSessionEndReasonLocal, ChargeSessionEndReasonOther,
		ChargeSessionEndReasonPowerLoss, ChargeSessionEndReasonReboot, ChargeSessionEndReasonRemote,
		ChargeSessionEndReasonSoftReset, ChargeSessionEndReasonUnlockCommand,
		ChargeSessionEndReasonDeAuthorized:
		return r
	default:
		return ChargeSessionEndReasonUnknown
	}
}

// ChargeSession is one charging transaction on one connector of a charge point.
// TransactionID is assigned by the session store when the session is first
// persisted.
type ChargeSession struct {
	ID            string                 `json:"id" gorm:"primaryKey"`
	ChargePointID string                 `json:"charge_point_id" gorm:"index"`
	ConnectorID   int                    `json:"connector_id"`
	AuthID        string                 `json:"auth_id"`
	TransactionID int                    `json:"transaction_id" gorm:"->;type:serial;uniqueIndex"`
	Created       time.Time              `json:"created"`
	Ended         *time.Time             `json:"ended,omitempty" gorm:"index"`
	EndReason     ChargeSessionEndReason `json:"end_reason,omitempty"`
	EndAuthID     string                 `json:"end_auth_id,omitempty"`
	Posted        *time.Time             `json:"posted,omitempty"`
}

// IsActive reports whether the session has not ended yet.
func (s *ChargeSession) IsActive() bool {
	return s.Ended == nil
}

// ChargeSessionStartInfo carries a StartTransaction event.
type ChargeSessionStartInfo struct {
	ChargePoint     ChargePointIdentity
	AuthorizationID string
	ConnectorID     int
	MeterStart      int
	Timestamp       time.Time
	ReservationID   *int
}

// ChargeSessionEndInfo carries a StopTransaction event.
type ChargeSessionEndInfo struct {
	ChargePoint     ChargePointIdentity
	AuthorizationID string
	TransactionID   int
	MeterEnd        int
	Timestamp       time.Time
	Reason          ChargeSessionEndReason
	// TransactionData holds extra readings reported with the stop event.
	TransactionData []SampledReading
}
