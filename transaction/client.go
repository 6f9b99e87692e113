package transaction

import (
	"context"
	"sync"

	"github.com/qmuntal/stateless"

	"github.com/dialtone/gophone/sipmsg"
)

const (
	clientStateCalling    = "calling"
	clientStateProceeding = "proceeding"
	clientStateCompleted  = "completed"
	clientStateTerminated = "terminated"
)

const (
	clientTriggerProvisional = "provisional"
	clientTriggerFinal       = "final"
	clientTriggerTerminate   = "terminate"
)

// ClientHandlers are invoked as a pending client transaction observes
// responses. OnFinal fires at most once; OnProvisional may fire any
// number of times before it.
type ClientHandlers struct {
	OnProvisional func(*sipmsg.Message)
	OnFinal       func(*sipmsg.Message)
}

// ClientTransaction tracks one outstanding request awaiting a response.
// It does not own retransmission timers — the REGISTER/INVITE retry
// cadence in §4.7 is simple enough that dialog owns those directly —
// its job is response correlation and terminated-transaction discard.
type ClientTransaction struct {
	Key Key

	mu       sync.Mutex
	sm       *stateless.StateMachine
	handlers ClientHandlers
}

// NewClientTransaction builds a transaction in the Calling/Trying state
// for the given key.
func NewClientTransaction(key Key, handlers ClientHandlers) *ClientTransaction {
	tx := &ClientTransaction{Key: key, handlers: handlers}
	sm := stateless.NewStateMachine(clientStateCalling)

	sm.Configure(clientStateCalling).
		Permit(clientTriggerProvisional, clientStateProceeding).
		Permit(clientTriggerFinal, clientStateCompleted).
		Permit(clientTriggerTerminate, clientStateTerminated)

	sm.Configure(clientStateProceeding).
		PermitReentry(clientTriggerProvisional).
		Permit(clientTriggerFinal, clientStateCompleted).
		Permit(clientTriggerTerminate, clientStateTerminated)

	sm.Configure(clientStateCompleted).
		Permit(clientTriggerTerminate, clientStateTerminated)

	sm.Configure(clientStateTerminated)

	tx.sm = sm
	return tx
}

// Deliver feeds a response into the transaction. Responses arriving
// after the transaction has terminated, and any response arriving after
// a final one, are discarded. Handlers are
// invoked after the internal lock is released, so they are free to call
// back into the transaction (e.g. Terminate) without deadlocking.
func (tx *ClientTransaction) Deliver(msg *sipmsg.Message) {
	tx.mu.Lock()

	state, _ := tx.sm.State(context.Background())
	if state == clientStateTerminated {
		tx.mu.Unlock()
		return
	}

	if msg.StatusCode >= 100 && msg.StatusCode < 200 {
		if ok, _ := tx.sm.CanFireCtx(context.Background(), clientTriggerProvisional); !ok {
			tx.mu.Unlock()
			return
		}
		_ = tx.sm.FireCtx(context.Background(), clientTriggerProvisional)
		handler := tx.handlers.OnProvisional
		tx.mu.Unlock()
		if handler != nil {
			handler(msg)
		}
		return
	}

	if !canFireFinal(tx.sm) {
		tx.mu.Unlock()
		return
	}
	_ = tx.sm.FireCtx(context.Background(), clientTriggerFinal)
	handler := tx.handlers.OnFinal
	tx.mu.Unlock()
	if handler != nil {
		handler(msg)
	}
}

func canFireFinal(sm *stateless.StateMachine) bool {
	ok, _ := sm.CanFireCtx(context.Background(), clientTriggerFinal)
	return ok
}

// Terminate moves the transaction to its terminal state. Idempotent.
func (tx *ClientTransaction) Terminate() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if ok, _ := tx.sm.CanFireCtx(context.Background(), clientTriggerTerminate); ok {
		_ = tx.sm.FireCtx(context.Background(), clientTriggerTerminate)
	}
}

// State reports the transaction's current state, for tests and logging.
func (tx *ClientTransaction) State() string {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	s, _ := tx.sm.State(context.Background())
	return s.(string)
}
