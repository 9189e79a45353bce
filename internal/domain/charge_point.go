package domain

import (
	"time"
)

// DefaultSourceIDTemplate is used when neither the charge point nor its owner
// configure a source ID template.
const DefaultSourceIDTemplate = "/protocol/cp/{chargePointId}/{connectorId}/{location}"

// ChargePointIdentity identifies a charge point within an owner's account, as
// established by the protocol handshake.
type ChargePointIdentity struct {
	Identifier string `json:"identifier"`
	OwnerID    string `json:"owner_id"`
}

type ChargePoint struct {
	ID              string    `json:"id" gorm:"primaryKey"`
	OwnerID         string    `json:"owner_id" gorm:"index:idx_charge_points_identity,unique"`
	Identifier      string    `json:"identifier" gorm:"index:idx_charge_points_identity,unique"`
	Vendor          string    `json:"vendor"`
	Model           string    `json:"model"`
	SerialNumber    string    `json:"serial_number"`
	FirmwareVersion string    `json:"firmware_version"`
	Enabled         bool      `json:"enabled"`
	ConnectorCount  int       `json:"connector_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Identity returns the protocol identity of the charge point.
func (cp *ChargePoint) Identity() ChargePointIdentity {
	return ChargePointIdentity{Identifier: cp.Identifier, OwnerID: cp.OwnerID}
}

// ChargePointSettings controls how datum derived from a charge point are
// named and where they are published.
type ChargePointSettings struct {
	ChargePointID         string    `json:"charge_point_id" gorm:"primaryKey"`
	OwnerID               string    `json:"owner_id" gorm:"index"`
	SourceIDTemplate      string    `json:"source_id_template"`
	PublishToPrimaryStore bool      `json:"publish_to_primary_store"`
	PublishToRealtimeBus  bool      `json:"publish_to_realtime_bus"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// OwnerSettings are account-wide defaults applied to charge points without
// their own settings.
type OwnerSettings struct {
	OwnerID               string    `json:"owner_id" gorm:"primaryKey"`
	SourceIDTemplate      string    `json:"source_id_template"`
	PublishToPrimaryStore bool      `json:"publish_to_primary_store"`
	PublishToRealtimeBus  bool      `json:"publish_to_realtime_bus"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// MergeSettings resolves effective settings for a charge point. Either argument may be
// nil; when both are nil the result is nil.
func MergeSettings(cp *ChargePointSettings, owner *OwnerSettings) *ChargePointSettings {
	if cp == nil && owner == nil {
		return nil
	}
	var out ChargePointSettings
	if cp != nil {
		out = *cp
	} else {
		out = ChargePointSettings{
			OwnerID:               owner.OwnerID,
			PublishToPrimaryStore: owner.PublishToPrimaryStore,
			PublishToRealtimeBus:  owner.PublishToRealtimeBus,
		}
	}
	if out.SourceIDTemplate == "" && owner != nil {
		out.SourceIDTemplate = owner.SourceIDTemplate
	}
	if out.SourceIDTemplate == "" {
		out.SourceIDTemplate = DefaultSourceIDTemplate
	}
	return &out
}
