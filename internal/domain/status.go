package domain

import (
	"time"
)

// ChargePointStatus is the last known connectivity of a charge point.
type ChargePointStatus struct {
	OwnerID       string    `json:"owner_id" gorm:"primaryKey"`
	Identifier    string    `json:"identifier" gorm:"primaryKey"`
	ConnectedTo   string    `json:"connected_to,omitempty"`
	SessionID     string    `json:"session_id,omitempty"`
	ConnectedDate time.Time `json:"connected_date"`
	Connected     bool      `json:"connected"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// StatusKey identifies the charge point a StatusUpdate applies to. Updates
// with the same key supersede each other.
type StatusKey struct {
	OwnerID    string
	Identifier string
}

// StatusUpdate is a pending connectivity change waiting to be written.
type StatusUpdate struct {
	Arrived        time.Time
	OwnerID        string
	Identifier     string
	ConnectedTo    string
	SessionID      string
	ConnectionDate time.Time
	Connected      bool
	Ready          time.Time
}

func (u *StatusUpdate) Key() StatusKey {
	return StatusKey{OwnerID: u.OwnerID, Identifier: u.Identifier}
}
