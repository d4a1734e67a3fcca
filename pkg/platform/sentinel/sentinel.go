package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, adapters and HTTP clients
// return these (optionally wrapped) and services translate them into coded
// domain errors:
//   - ErrNotFound: no session, slot or status record exists
//   - ErrUnavailable: a remote collaborator could not be reached or never initialized
//   - ErrInvalidState: a resource was used in the wrong lifecycle state
//   - ErrAlreadyActive: a single-use resource was acquired twice without release
//   - ErrClosed: the owner of a resource has been torn down
var (
	ErrNotFound      = errors.New("not found")
	ErrUnavailable   = errors.New("unavailable")
	ErrInvalidState  = errors.New("invalid state")
	ErrAlreadyActive = errors.New("already active")
	ErrClosed        = errors.New("closed")
)
