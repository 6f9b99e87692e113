package dialog

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/dialtone/gophone/sdp"
	"github.com/dialtone/gophone/sipmsg"
)

// answerFor builds a response echoing req's dialog headers, adding a
// remote tag to To the first time (subsequent calls leave an existing
// tag alone, matching real UAS behavior across a provisional/final pair).
func answerFor(status int, reason string, req *sipmsg.Message, remoteTag string) *sipmsg.Message {
	resp := sipmsg.NewResponse(status, reason)
	copyHeader(resp, req, "Via")
	copyHeader(resp, req, "From")
	to, _ := req.Headers().Get("To")
	resp.Headers().Set("To", addTag(to, remoteTag))
	copyHeader(resp, req, "Call-ID")
	copyHeader(resp, req, "CSeq")
	return resp
}

func TestOutboundCallReachesActive(t *testing.T) {
	peer := newFakePeer(t)
	rec := &sinkRecorder{}
	ua := newTestUA(t, peer, rec)

	require.NoError(t, ua.Invite("bob"))

	data, src := peer.recv(t)
	invite, err := sipmsg.Parse(data)
	require.NoError(t, err)
	require.Equal(t, "INVITE", invite.Method)
	require.Equal(t, "sip:bob@127.0.0.1", invite.RequestURI)

	ringing := answerFor(180, "Ringing", invite, "peer-tag")
	peer.reply(t, src, ringing.Serialize())
	eventually(t, func() bool {
		states := rec.callStates()
		return len(states) > 0 && states[len(states)-1] == CallRinging
	})

	ok := answerFor(200, "OK", invite, "peer-tag")
	ok.Headers().Set("Content-Type", "application/sdp")
	ok.Body = sdp.Offer{LocalIP: "127.0.0.2", RTPPort: 40000, PayloadTypes: []int{0}, User: "bob", SessionID: 1}.Build()
	peer.reply(t, src, ok.Serialize())

	ackData, _ := peer.recv(t)
	ack, err := sipmsg.Parse(ackData)
	require.NoError(t, err)
	require.Equal(t, "ACK", ack.Method)
	via, _ := ack.Headers().Get("Via")
	inviteVia, _ := invite.Headers().Get("Via")
	require.NotEqual(t, via, inviteVia, "2xx ACK must use a fresh branch")
	_, cseqMethod, _ := cseqParts(ack)
	require.Equal(t, "ACK", cseqMethod)

	eventually(t, func() bool {
		states := rec.callStates()
		return len(states) > 0 && states[len(states)-1] == CallActive
	})
}

func TestOutboundCallRejectedGoesIdle(t *testing.T) {
	peer := newFakePeer(t)
	rec := &sinkRecorder{}
	ua := newTestUA(t, peer, rec)

	require.NoError(t, ua.Invite("bob"))
	data, src := peer.recv(t)
	invite, err := sipmsg.Parse(data)
	require.NoError(t, err)

	busy := answerFor(486, "Busy Here", invite, "peer-tag")
	peer.reply(t, src, busy.Serialize())

	ackData, _ := peer.recv(t)
	ack, err := sipmsg.Parse(ackData)
	require.NoError(t, err)
	require.Equal(t, "ACK", ack.Method)
	ackVia, _ := ack.Headers().Get("Via")
	inviteVia, _ := invite.Headers().Get("Via")
	require.Equal(t, inviteVia, ackVia, "non-2xx ACK reuses the INVITE transaction")

	eventually(t, func() bool {
		states := rec.callStates()
		return len(states) > 0 && states[len(states)-1] == CallIdle
	})
}

func TestOutboundCallRetriesWithAuthOn401(t *testing.T) {
	peer := newFakePeer(t)
	rec := &sinkRecorder{}
	ua := newTestUA(t, peer, rec)

	require.NoError(t, ua.Invite("bob"))
	data, src := peer.recv(t)
	invite, err := sipmsg.Parse(data)
	require.NoError(t, err)

	challenge := answerFor(401, "Unauthorized", invite, "peer-tag")
	challenge.Headers().Set("WWW-Authenticate", `Digest realm="sip.example.com", nonce="xyz"`)
	peer.reply(t, src, challenge.Serialize())

	peer.recv(t) // ACK for the 401

	data2, src2 := peer.recv(t)
	retry, err := sipmsg.Parse(data2)
	require.NoError(t, err)
	require.Equal(t, "INVITE", retry.Method)
	authHeader := headerValue(t, retry, "Authorization")
	require.Contains(t, authHeader, `username="1001"`)

	ok := answerFor(200, "OK", retry, "peer-tag")
	ok.Body = sdp.Offer{LocalIP: "127.0.0.2", RTPPort: 40010, PayloadTypes: []int{8}, User: "bob", SessionID: 2}.Build()
	peer.reply(t, src2, ok.Serialize())

	eventually(t, func() bool {
		states := rec.callStates()
		return len(states) > 0 && states[len(states)-1] == CallActive
	})
}

func TestInboundCallSecondInviteRejectedBusy(t *testing.T) {
	peer := newFakePeer(t)
	rec := &sinkRecorder{}
	ua := newTestUA(t, peer, rec)

	invite1 := inboundInvite("1", "alice")
	ua.deliver(invite1.Serialize(), peer.conn.LocalAddr().String())

	peer.recv(t) // 100 Trying
	peer.recv(t) // 180 Ringing

	invite2 := inboundInvite("2", "carol")
	ua.deliver(invite2.Serialize(), peer.conn.LocalAddr().String())

	data, _ := peer.recv(t)
	resp, err := sipmsg.Parse(data)
	require.NoError(t, err)
	require.Equal(t, 486, resp.StatusCode)
	require.Equal(t, "call-2", headerValue(t, resp, "Call-ID"))
}

func TestInboundCallAnswerReachesActive(t *testing.T) {
	peer := newFakePeer(t)
	rec := &sinkRecorder{}
	ua := newTestUA(t, peer, rec)

	offer := sdp.Offer{LocalIP: "127.0.0.3", RTPPort: 40020, PayloadTypes: []int{0, 8}, User: "alice", SessionID: 3}
	invite := inboundInvite("1", "alice")
	invite.Body = offer.Build()
	invite.Headers().Set("Content-Type", "application/sdp")
	ua.deliver(invite.Serialize(), peer.conn.LocalAddr().String())

	parsedOffer, err := sdp.Parse(invite.Body)
	require.NoError(t, err)
	if diff := cmp.Diff([]int{0, 8}, parsedOffer.PayloadTypes); diff != "" {
		t.Fatalf("offered payload types round-trip mismatch (-want +got):\n%s", diff)
	}

	peer.recv(t) // 100 Trying
	peer.recv(t) // 180 Ringing

	eventually(t, func() bool {
		states := rec.callStates()
		return len(states) > 0 && states[len(states)-1] == CallRingingIn
	})

	require.NoError(t, ua.Answer())

	data, _ := peer.recv(t)
	resp, err := sipmsg.Parse(data)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, "application/sdp", headerValue(t, resp, "Content-Type"))

	eventually(t, func() bool {
		states := rec.callStates()
		return len(states) > 0 && states[len(states)-1] == CallActive
	})
}

// inboundInvite builds a minimal, well-formed INVITE as if received from
// a peer, with the given Call-ID suffix and From user.
func inboundInvite(suffix, fromUser string) *sipmsg.Message {
	req := sipmsg.NewRequest("INVITE", "sip:1001@127.0.0.1")
	h := req.Headers()
	h.Set("Via", "SIP/2.0/UDP 127.0.0.9:5060;branch=z9hG4bK-in-"+suffix)
	h.Set("From", "<sip:"+fromUser+"@127.0.0.9>;tag=remote-"+suffix)
	h.Set("To", "<sip:1001@127.0.0.1>")
	h.Set("Call-ID", "call-"+suffix)
	h.Set("CSeq", "1 INVITE")
	h.Set("Max-Forwards", "70")
	return req
}

