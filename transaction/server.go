package transaction

import (
	"context"
	"sync"

	"github.com/qmuntal/stateless"

	"github.com/dialtone/gophone/sipmsg"
)

const (
	serverStateProceeding = "proceeding"
	serverStateCompleted  = "completed"
	serverStateTerminated = "terminated"
)

const (
	serverTriggerRespond   = "respond"
	serverTriggerTerminate = "terminate"
)

// ServerTransaction tracks one inbound request this UA is responding
// to. Its main job is idempotency: once Completed, Respond records no
// further response, so LastResponse keeps returning the first final
// response for a retransmitted request.
type ServerTransaction struct {
	Key Key

	// Request is the inbound request that opened this transaction, kept
	// so every response on it can echo Via/From/To/Call-ID/CSeq
	// verbatim, per §4.7's inbound-INVITE handling.
	Request *sipmsg.Message

	mu       sync.Mutex
	sm       *stateless.StateMachine
	lastResp *sipmsg.Message
}

// NewServerTransaction opens a transaction for an inbound request.
func NewServerTransaction(key Key, request *sipmsg.Message) *ServerTransaction {
	tx := &ServerTransaction{Key: key, Request: request}
	sm := stateless.NewStateMachine(serverStateProceeding)

	sm.Configure(serverStateProceeding).
		Permit(serverTriggerRespond, serverStateCompleted).
		Permit(serverTriggerTerminate, serverStateTerminated)

	sm.Configure(serverStateCompleted).
		Permit(serverTriggerTerminate, serverStateTerminated)

	sm.Configure(serverStateTerminated)

	tx.sm = sm
	return tx
}

// Respond records resp as this transaction's final response, allowed
// only while Proceeding (provisional responses like 100/180 do not
// advance the transaction state — only a final, non-retriable response
// does, since this UA never retransmits its own final responses).
func (tx *ServerTransaction) Respond(resp *sipmsg.Message) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if s, _ := tx.sm.State(context.Background()); s.(string) != serverStateProceeding {
		return
	}
	if resp.StatusCode >= 200 {
		if ok, _ := tx.sm.CanFireCtx(context.Background(), serverTriggerRespond); ok {
			_ = tx.sm.FireCtx(context.Background(), serverTriggerRespond)
		}
	}
	tx.lastResp = resp
}

// IsCompleted reports whether a final response has already been sent.
func (tx *ServerTransaction) IsCompleted() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	s, _ := tx.sm.State(context.Background())
	return s.(string) != serverStateProceeding
}

// LastResponse returns the most recent response recorded, if any.
func (tx *ServerTransaction) LastResponse() *sipmsg.Message {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.lastResp
}

// Terminate moves the transaction to its terminal state. Idempotent.
func (tx *ServerTransaction) Terminate() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if ok, _ := tx.sm.CanFireCtx(context.Background(), serverTriggerTerminate); ok {
		_ = tx.sm.FireCtx(context.Background(), serverTriggerTerminate)
	}
}
