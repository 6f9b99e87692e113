package dialog

import "errors"

// Sentinel errors for dialog-layer preconditions and failure kinds.
// dialog never imports the root package (per the UA<->root layering
// note in events.go), so these are checked with errors.Is at the
// gophone package boundary and mapped onto its own Error kinds there.
var (
	ErrAlreadyInCall       = errors.New("dialog: already in a call")
	ErrNoActiveCall        = errors.New("dialog: no active call")
	ErrCallNotRinging      = errors.New("dialog: call is not ringing")
	ErrCallNotActive       = errors.New("dialog: call is not active")
	ErrNotRegistered       = errors.New("dialog: not registered")
	ErrTransportNotStarted = errors.New("dialog: transport not started")
	ErrMedia               = errors.New("dialog: media error")
)
