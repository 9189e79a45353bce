package domain

import (
	"time"
)

type AuthorizationStatus string

const (
	AuthorizationStatusAccepted     AuthorizationStatus = "Accepted"
	AuthorizationStatusBlocked      AuthorizationStatus = "Blocked"
	AuthorizationStatusExpired      AuthorizationStatus = "Expired"
	AuthorizationStatusInvalid      AuthorizationStatus = "Invalid"
	AuthorizationStatusConcurrentTx AuthorizationStatus = "ConcurrentTx"
)

// Authorization is an id tag an owner allows to charge.
type Authorization struct {
	ID        uint       `json:"id" gorm:"primaryKey"`
	OwnerID   string     `json:"owner_id" gorm:"index:idx_authorizations_token,unique"`
	Token     string     `json:"token" gorm:"index:idx_authorizations_token,unique"`
	Enabled   bool       `json:"enabled"`
	Expiry    *time.Time `json:"expiry,omitempty"`
	ParentID  string     `json:"parent_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// AuthorizationInfo is the outcome of an authorization check.
type AuthorizationInfo struct {
	ID         string              `json:"id"`
	Status     AuthorizationStatus `json:"status"`
	ExpiryDate *time.Time          `json:"expiry_date,omitempty"`
	ParentID   string              `json:"parent_id,omitempty"`
}

func (a *AuthorizationInfo) IsAccepted() bool {
	return a != nil && a.Status == AuthorizationStatusAccepted
}
