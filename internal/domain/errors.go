package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound     = errors.New("charge session not found")
	ErrChargePointNotFound = errors.New("charge point not found")
	ErrInvalidStartInfo    = errors.New("connector ID and authorization ID are required")

	// ErrConnectorInUse is returned by the session store when an insert
	// collides with another incomplete session on the same connector.
	ErrConnectorInUse = errors.New("connector already has an incomplete charge session")
)

// AuthorizationError is returned when a session may not start, either because
// the id tag was rejected or because the connector already has a session.
type AuthorizationError struct {
	IdTag  string
	Reason AuthorizationStatus
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization of %q failed: %s", e.IdTag, e.Reason)
}

// IsConcurrentTx reports whether err rejects a start because the connector is
// already in use. Such errors must not be retried.
func IsConcurrentTx(err error) bool {
	var authErr *AuthorizationError
	return errors.As(err, &authErr) && authErr.Reason == AuthorizationStatusConcurrentTx
}

// ConfigurationError means the charge point or its settings could not be
// resolved.
type ConfigurationError struct {
	Identity ChargePointIdentity
	Msg      string
	Err      error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("charge point %s/%s: %s: %v", e.Identity.OwnerID, e.Identity.Identifier, e.Msg, e.Err)
	}
	return fmt.Sprintf("charge point %s/%s: %s", e.Identity.OwnerID, e.Identity.Identifier, e.Msg)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps a failed write to the session registry or the
// primary datum store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
