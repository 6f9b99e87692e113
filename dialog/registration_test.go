package dialog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dialtone/gophone/sipmsg"
)

func TestRegisterSucceedsWithoutChallenge(t *testing.T) {
	peer := newFakePeer(t)
	rec := &sinkRecorder{}
	ua := newTestUA(t, peer, rec)

	require.NoError(t, ua.Register())

	data, src := peer.recv(t)
	req, err := sipmsg.Parse(data)
	require.NoError(t, err)
	require.Equal(t, "REGISTER", req.Method)
	require.Equal(t, "300", headerValue(t, req, "Expires"))

	resp := sipmsg.NewResponse(200, "OK")
	copyRequestHeaders(resp, req)
	resp.Headers().Set("Expires", "300")
	peer.reply(t, src, resp.Serialize())

	eventually(t, func() bool {
		st, _, ok := rec.lastStatus()
		return ok && st == StatusConnected
	})

	ua.mu.Lock()
	reg := ua.reg
	ua.mu.Unlock()
	require.NotNil(t, reg)
	reg.mu.Lock()
	defer reg.mu.Unlock()
	require.NotNil(t, reg.refreshTimer)
	require.Equal(t, 0, reg.retries)
	require.False(t, reg.authSent)
}

func TestRegisterRetriesWithDigestAfterChallenge(t *testing.T) {
	peer := newFakePeer(t)
	rec := &sinkRecorder{}
	ua := newTestUA(t, peer, rec)

	require.NoError(t, ua.Register())

	data, src := peer.recv(t)
	req, err := sipmsg.Parse(data)
	require.NoError(t, err)
	require.Equal(t, "REGISTER", req.Method)

	challenge := sipmsg.NewResponse(401, "Unauthorized")
	copyRequestHeaders(challenge, req)
	challenge.Headers().Set("WWW-Authenticate", `Digest realm="sip.example.com", nonce="abc123"`)
	peer.reply(t, src, challenge.Serialize())

	data2, src2 := peer.recv(t)
	retry, err := sipmsg.Parse(data2)
	require.NoError(t, err)
	require.Equal(t, "REGISTER", retry.Method)
	authHeader := headerValue(t, retry, "Authorization")
	require.Contains(t, authHeader, `username="1001"`)
	require.Contains(t, authHeader, `realm="sip.example.com"`)

	ok := sipmsg.NewResponse(200, "OK")
	copyRequestHeaders(ok, retry)
	ok.Headers().Set("Expires", "300")
	peer.reply(t, src2, ok.Serialize())

	eventually(t, func() bool {
		st, _, ok := rec.lastStatus()
		return ok && st == StatusConnected
	})
}

func TestRegisterSecondChallengeAfterAuthFails(t *testing.T) {
	peer := newFakePeer(t)
	rec := &sinkRecorder{}
	ua := newTestUA(t, peer, rec)

	require.NoError(t, ua.Register())

	data, src := peer.recv(t)
	req, err := sipmsg.Parse(data)
	require.NoError(t, err)

	challenge := sipmsg.NewResponse(401, "Unauthorized")
	copyRequestHeaders(challenge, req)
	challenge.Headers().Set("WWW-Authenticate", `Digest realm="sip.example.com", nonce="abc123"`)
	peer.reply(t, src, challenge.Serialize())

	data2, src2 := peer.recv(t)
	retry, err := sipmsg.Parse(data2)
	require.NoError(t, err)

	secondChallenge := sipmsg.NewResponse(401, "Unauthorized")
	copyRequestHeaders(secondChallenge, retry)
	secondChallenge.Headers().Set("WWW-Authenticate", `Digest realm="sip.example.com", nonce="def456"`)
	peer.reply(t, src2, secondChallenge.Serialize())

	eventually(t, func() bool {
		st, text, ok := rec.lastStatus()
		return ok && st == StatusDisconnected && text == "auth failed"
	})
}

func TestGrantedExpiresDefaultsWhenHeaderMissing(t *testing.T) {
	resp := sipmsg.NewResponse(200, "OK")
	require.Equal(t, registerExpires, grantedExpires(resp))

	resp.Headers().Set("Expires", "120")
	require.Equal(t, 120, grantedExpires(resp))

	resp.Headers().Set("Expires", "not-a-number")
	require.Equal(t, registerExpires, grantedExpires(resp))
}

func TestRegistrationStopIsIdempotent(t *testing.T) {
	reg := &registration{}
	reg.retryTimer = time.AfterFunc(time.Hour, func() {})
	reg.refreshTimer = time.AfterFunc(time.Hour, func() {})
	reg.stop()
	reg.stop()
	require.True(t, reg.stopped)
}

func headerValue(t *testing.T, msg *sipmsg.Message, name string) string {
	t.Helper()
	v, ok := msg.Headers().Get(name)
	require.True(t, ok, "missing header %s", name)
	return v
}

// copyRequestHeaders echoes the dialog-identifying headers a UAS response
// must carry back: Via, From, To, Call-ID, CSeq.
func copyRequestHeaders(resp, req *sipmsg.Message) {
	for _, name := range []string{"Via", "From", "To", "Call-ID", "CSeq"} {
		if v, ok := req.Headers().Get(name); ok {
			resp.Headers().Set(name, v)
		}
	}
}
