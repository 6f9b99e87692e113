package dialog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dialtone/gophone/sipmsg"
)

func TestKeepaliveOptionsGetsTaggedResponse(t *testing.T) {
	peer := newFakePeer(t)
	rec := &sinkRecorder{}
	ua := newTestUA(t, peer, rec)

	req := sipmsg.NewRequest("OPTIONS", "sip:1001@127.0.0.1")
	h := req.Headers()
	h.Set("Via", "SIP/2.0/UDP 127.0.0.9:5060;branch=z9hG4bK-opt-1")
	h.Set("From", "<sip:pbx@127.0.0.9>;tag=pbx-tag")
	h.Set("To", "<sip:1001@127.0.0.1>")
	h.Set("Call-ID", "keepalive-1")
	h.Set("CSeq", "1 OPTIONS")

	ua.deliver(req.Serialize(), peer.conn.LocalAddr().String())

	data, _ := peer.recv(t)
	resp, err := sipmsg.Parse(data)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	to := headerValue(t, resp, "To")
	_, hasTag := viaParam(to, "tag")
	require.True(t, hasTag, "OPTIONS response must add a tag to To")
	require.Equal(t, allowedMethods, headerValue(t, resp, "Allow"))
}

func TestKeepaliveNotifyGetsUntaggedResponse(t *testing.T) {
	peer := newFakePeer(t)
	rec := &sinkRecorder{}
	ua := newTestUA(t, peer, rec)

	req := sipmsg.NewRequest("NOTIFY", "sip:1001@127.0.0.1")
	h := req.Headers()
	h.Set("Via", "SIP/2.0/UDP 127.0.0.9:5060;branch=z9hG4bK-notify-1")
	h.Set("From", "<sip:pbx@127.0.0.9>;tag=pbx-tag")
	h.Set("To", "<sip:1001@127.0.0.1>")
	h.Set("Call-ID", "keepalive-2")
	h.Set("CSeq", "1 NOTIFY")

	ua.deliver(req.Serialize(), peer.conn.LocalAddr().String())

	data, _ := peer.recv(t)
	resp, err := sipmsg.Parse(data)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	to := headerValue(t, resp, "To")
	_, hasTag := viaParam(to, "tag")
	require.False(t, hasTag, "NOTIFY response must not add a tag to an already-untagged To")
}
