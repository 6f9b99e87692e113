// Package transaction implements client and server transaction state
// machines for REGISTER/INVITE/non-INVITE (§4.7), correlating requests
// to responses by branch+method and rejecting stale/duplicate messages
// once a transaction has terminated. The FSMs are built on
// github.com/qmuntal/stateless, gosip's own dependency for this concern.
package transaction

// Key identifies a transaction by the request's topmost Via branch and
// its method — the same tuple RFC 3261 §17 uses for transaction
// matching (this UA never forks, so no further disambiguation is
// needed).
type Key struct {
	Branch string
	Method string
}
