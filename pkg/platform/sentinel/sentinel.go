package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and caches return these
// (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: provider/agent/token does not exist in the store
// - ErrExpired: token or proof is past its validity window
// - ErrAlreadyUsed: one-time resource (DPoP jti replay, secret claim) consumed
// - ErrInvalidState: entity in wrong state for the requested operation
// - ErrUnavailable: backing service (DB, Redis) temporarily unreachable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
