package dialog

import "github.com/dialtone/gophone/sipmsg"

// handleKeepaliveRequest replies 200 OK to unsolicited OPTIONS and
// NOTIFY, echoing Via/From/To/Call-ID/CSeq and adding a fresh tag to To
// on OPTIONS, per §4.7's "Keepalive and spontaneous requests".
func (ua *UA) handleKeepaliveRequest(msg *sipmsg.Message) {
	resp := sipmsg.NewResponse(200, "OK")
	copyHeader(resp, msg, "Via")
	copyHeader(resp, msg, "From")

	to, _ := msg.Headers().Get("To")
	if msg.Method == "OPTIONS" {
		to = addTag(to, GenerateTag())
	}
	resp.Headers().Set("To", to)

	copyHeader(resp, msg, "Call-ID")
	copyHeader(resp, msg, "CSeq")
	resp.Headers().Set("Allow", allowedMethods)
	_ = ua.send(resp)
}
