package transaction_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dialtone/gophone/sipmsg"
	"github.com/dialtone/gophone/transaction"
)

func TestClientTransactionProvisionalThenFinal(t *testing.T) {
	var provisional []int
	var final *sipmsg.Message

	key := transaction.Key{Branch: "z9hG4bK-1", Method: "INVITE"}
	tx := transaction.NewClientTransaction(key, transaction.ClientHandlers{
		OnProvisional: func(m *sipmsg.Message) { provisional = append(provisional, m.StatusCode) },
		OnFinal:       func(m *sipmsg.Message) { final = m },
	})
	require.Equal(t, "calling", tx.State())

	tx.Deliver(sipmsg.NewResponse(100, "Trying"))
	require.Equal(t, "proceeding", tx.State())

	tx.Deliver(sipmsg.NewResponse(180, "Ringing"))
	require.Equal(t, "proceeding", tx.State())
	require.Equal(t, []int{100, 180}, provisional)

	tx.Deliver(sipmsg.NewResponse(200, "OK"))
	require.Equal(t, "completed", tx.State())
	require.NotNil(t, final)
	require.Equal(t, 200, final.StatusCode)
}

func TestClientTransactionFinalWithoutProvisional(t *testing.T) {
	var final *sipmsg.Message
	key := transaction.Key{Branch: "z9hG4bK-2", Method: "REGISTER"}
	tx := transaction.NewClientTransaction(key, transaction.ClientHandlers{
		OnFinal: func(m *sipmsg.Message) { final = m },
	})

	tx.Deliver(sipmsg.NewResponse(401, "Unauthorized"))
	require.Equal(t, "completed", tx.State())
	require.Equal(t, 401, final.StatusCode)
}

func TestClientTransactionDiscardsAfterTerminate(t *testing.T) {
	calls := 0
	key := transaction.Key{Branch: "z9hG4bK-3", Method: "INVITE"}
	tx := transaction.NewClientTransaction(key, transaction.ClientHandlers{
		OnFinal: func(m *sipmsg.Message) { calls++ },
	})

	tx.Deliver(sipmsg.NewResponse(200, "OK"))
	tx.Terminate()
	require.Equal(t, "terminated", tx.State())

	tx.Deliver(sipmsg.NewResponse(200, "OK"))
	require.Equal(t, 1, calls)
}

func TestClientTransactionTerminateIsIdempotent(t *testing.T) {
	key := transaction.Key{Branch: "z9hG4bK-4", Method: "BYE"}
	tx := transaction.NewClientTransaction(key, transaction.ClientHandlers{})
	tx.Terminate()
	tx.Terminate()
	require.Equal(t, "terminated", tx.State())
}
