package pairing

import "errors"

var (
	ErrCapacity          = errors.New("peer capacity reached")
	ErrAlreadyRegistered = errors.New("peer already registered")
	ErrUnknownPeer       = errors.New("unknown peer")
	ErrNotPartnered      = errors.New("peers are not partnered")
	ErrUnsupportedKind   = errors.New("unsupported signal kind")
)

// Error codes carried by Error events.
const (
	CodeCapacity        = "capacity"
	CodeNotPartnered    = "not_partnered"
	CodeUnsupportedKind = "unsupported_kind"
)
