package dialog

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"braces.dev/errtrace"

	"github.com/dialtone/gophone/digest"
	"github.com/dialtone/gophone/rtp"
	"github.com/dialtone/gophone/sdp"
	"github.com/dialtone/gophone/sipmsg"
	"github.com/dialtone/gophone/transaction"
)

// Call is the single dialog this UA may hold at a time, per §3's "at most
// one Call exists at any time" invariant.
type Call struct {
	mu sync.Mutex

	direction string // "outbound" or "inbound"
	state     CallState

	callID    string
	localTag  string
	remoteTag string
	localURI  string
	remoteURI string
	cseq      int

	inviteBranch string
	inviteMsg    *sipmsg.Message                // inbound only: the request to echo headers from
	serverTx     *transaction.ServerTransaction // inbound only: the INVITE's server transaction

	localSDPOffer sdp.Offer
	remoteSDP     *sdp.Parsed
	answered      bool // inbound only: Answer() already called

	rtp   *rtp.Engine
	muted bool

	authSent bool
}

func newRTPEngine(ua *UA) *rtp.Engine {
	return rtp.New(ua.log, func(ev rtp.Event) {
		if ev.Err != nil {
			ua.logEvent(LogWarn, "rtp: "+ev.Err.Error())
			return
		}
		if ev.LearnedRemote != nil {
			ua.logEvent(LogInfo, "learned RTP remote endpoint "+ev.LearnedRemote.String())
			return
		}
		if ev.PCM != nil {
			ua.sink.remoteAudio(ev.PCM)
		}
	})
}

// Invite places an outbound call. target is either "user@host" or a bare
// extension, appended with "@"+server.
func (ua *UA) Invite(target string) error {
	ua.mu.Lock()
	if ua.call != nil {
		ua.mu.Unlock()
		return errtrace.Wrap(ErrAlreadyInCall)
	}
	if !strings.Contains(target, "@") {
		target = target + "@" + ua.cfg.Server
	}
	call := &Call{
		direction:    "outbound",
		state:        CallCalling,
		callID:       GenerateCallID() + "@" + ua.cfg.Server,
		localTag:     GenerateTag(),
		localURI:     ua.cfg.AOR(),
		remoteURI:    "sip:" + target,
		cseq:         1,
		inviteBranch: GenerateBranch(),
		rtp:          newRTPEngine(ua),
	}
	ua.call = call
	ua.mu.Unlock()

	port, err := call.rtp.Bind()
	if err != nil {
		ua.teardownCall(call, "Media bind failed")
		return errtrace.Wrap(fmt.Errorf("%w: %w", ErrMedia, err))
	}
	call.localSDPOffer = sdp.Offer{
		LocalIP:      ua.localIP,
		RTPPort:      port,
		PayloadTypes: []int{0, 8, 101},
		User:         ua.cfg.Extension,
		SessionID:    time.Now().Unix(),
	}

	ua.sendInvite(call, nil)
	ua.sink.callState(CallCalling, call.remoteURI)
	return nil
}

func (ua *UA) sendInvite(call *Call, authHeader *string) {
	msg := sipmsg.NewRequest("INVITE", call.remoteURI)
	h := msg.Headers()
	h.Set("Via", buildVia(ua.network(), ua.localAddr(), call.inviteBranch))
	h.Set("From", fmt.Sprintf("<%s>;tag=%s", call.localURI, call.localTag))
	h.Set("To", fmt.Sprintf("<%s>", call.remoteURI))
	h.Set("Call-ID", call.callID)
	h.Set("CSeq", strconv.Itoa(call.cseq)+" INVITE")
	h.Set("Contact", ua.contact())
	h.Set("Allow", allowedMethods)
	h.Set("Max-Forwards", "70")
	h.Set("Content-Type", "application/sdp")
	if authHeader != nil {
		h.Set("Authorization", *authHeader)
	}
	msg.Body = call.localSDPOffer.Build()

	key := transaction.Key{Branch: call.inviteBranch, Method: "INVITE"}
	tx := transaction.NewClientTransaction(key, transaction.ClientHandlers{
		OnProvisional: func(resp *sipmsg.Message) { ua.handleInviteProvisional(call, resp) },
		OnFinal:       ua.clientFinal(key, func(resp *sipmsg.Message) { ua.handleInviteFinal(call, resp) }),
	})
	ua.registry.AddClient(tx)
	_ = ua.send(msg)
}

func (ua *UA) handleInviteProvisional(call *Call, resp *sipmsg.Message) {
	if resp.StatusCode != 180 && resp.StatusCode != 183 {
		return
	}
	if tag, ok := toTag(resp); ok {
		call.mu.Lock()
		call.remoteTag = tag
		call.mu.Unlock()
	}
	call.mu.Lock()
	call.state = CallRinging
	call.mu.Unlock()
	ua.sink.callState(CallRinging, call.remoteURI)
}

func (ua *UA) handleInviteFinal(call *Call, resp *sipmsg.Message) {
	switch {
	case resp.StatusCode == 401 || resp.StatusCode == 407:
		ua.ackNonFinal(call, resp)
		ua.retryInviteWithAuth(call, resp)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		ua.ackInvite2xx(call, resp)
		ua.activateCall(call, resp)
	case resp.StatusCode >= 300:
		ua.ackNonFinal(call, resp)
		ua.teardownCall(call, strconv.Itoa(resp.StatusCode)+" "+resp.Reason)
	}
}

// ackNonFinal builds the ACK for a non-2xx final response: same
// transaction, same Via branch and CSeq as the INVITE it answers.
func (ua *UA) ackNonFinal(call *Call, resp *sipmsg.Message) {
	msg := sipmsg.NewRequest("ACK", call.remoteURI)
	h := msg.Headers()
	h.Set("Via", buildVia(ua.network(), ua.localAddr(), call.inviteBranch))
	h.Set("From", fmt.Sprintf("<%s>;tag=%s", call.localURI, call.localTag))
	to := fmt.Sprintf("<%s>", call.remoteURI)
	if tag, ok := toTag(resp); ok {
		to += ";tag=" + tag
	}
	h.Set("To", to)
	h.Set("Call-ID", call.callID)
	h.Set("CSeq", strconv.Itoa(call.cseq)+" ACK")
	_ = ua.send(msg)
}

// ackInvite2xx builds the ACK for a 2xx response: a new, end-to-end
// transaction on a fresh branch, CSeq number reused from the INVITE.
func (ua *UA) ackInvite2xx(call *Call, resp *sipmsg.Message) {
	msg := sipmsg.NewRequest("ACK", call.remoteURI)
	h := msg.Headers()
	h.Set("Via", buildVia(ua.network(), ua.localAddr(), GenerateBranch()))
	h.Set("From", fmt.Sprintf("<%s>;tag=%s", call.localURI, call.localTag))
	to := fmt.Sprintf("<%s>", call.remoteURI)
	if tag, ok := toTag(resp); ok {
		to += ";tag=" + tag
		call.mu.Lock()
		call.remoteTag = tag
		call.mu.Unlock()
	}
	h.Set("To", to)
	h.Set("Call-ID", call.callID)
	h.Set("CSeq", strconv.Itoa(call.cseq)+" ACK")
	_ = ua.send(msg)
}

func (ua *UA) retryInviteWithAuth(call *Call, resp *sipmsg.Message) {
	call.mu.Lock()
	if call.authSent {
		call.mu.Unlock()
		ua.teardownCall(call, "second challenge after authorization")
		return
	}
	call.authSent = true
	call.cseq++
	call.inviteBranch = GenerateBranch()
	call.mu.Unlock()

	challengeHeader, ok := resp.Headers().Get("WWW-Authenticate")
	if !ok {
		challengeHeader, ok = resp.Headers().Get("Proxy-Authenticate")
	}
	if !ok {
		ua.teardownCall(call, "auth challenge missing")
		return
	}
	challenge, err := digest.ParseChallenge(challengeHeader)
	if err != nil {
		ua.logEvent(LogError, "digest: "+err.Error())
		ua.teardownCall(call, "auth challenge unparseable")
		return
	}
	auth := digest.Authorization(challenge, digest.Credentials{
		Username: ua.cfg.Extension,
		Password: ua.cfg.Password,
		Method:   "INVITE",
		URI:      call.remoteURI,
	})
	ua.sendInvite(call, &auth)
}

func (ua *UA) activateCall(call *Call, resp *sipmsg.Message) {
	parsed, err := sdp.Parse(resp.Body)
	if err != nil {
		ua.logEvent(LogError, "sdp: "+err.Error())
		ua.teardownCall(call, "bad answer SDP")
		return
	}
	pt := sdp.AnswerPayloadType(parsed.PayloadTypes)
	call.mu.Lock()
	call.remoteSDP = parsed
	call.state = CallActive
	call.mu.Unlock()

	if err := call.rtp.Start(parsed.IP, parsed.Port, uint8(pt)); err != nil {
		ua.logEvent(LogError, "rtp: "+err.Error())
	}
	ua.sink.callState(CallActive, call.remoteURI)
}

// teardownCall tears the call's RTP engine down, drops it from the UA,
// and emits the idle transition.
func (ua *UA) teardownCall(call *Call, reason string) {
	ua.mu.Lock()
	if ua.call == call {
		ua.call = nil
	}
	ua.mu.Unlock()
	if call.serverTx != nil {
		ua.registry.RemoveServer(call.serverTx.Key)
	}
	call.rtp.Close()
	ua.sink.callState(CallIdle, reason)
}

func (call *Call) terminate(ua *UA, reason string) {
	ua.teardownCall(call, reason)
}

// Hangup ends the call, whatever state it is in.
func (ua *UA) Hangup() error {
	ua.mu.Lock()
	call := ua.call
	ua.mu.Unlock()
	if call == nil {
		return errtrace.Wrap(ErrNoActiveCall)
	}

	call.mu.Lock()
	state := call.state
	call.mu.Unlock()

	switch state {
	case CallCalling, CallRinging:
		ua.sendCancel(call)
	case CallRingingIn:
		ua.replyInvite(call, 486, "Busy Here", nil, call.serverTx)
		ua.teardownCall(call, "Declined")
	case CallActive:
		ua.sendBye(call)
	default:
		ua.teardownCall(call, "Stopped")
	}
	return nil
}

func (ua *UA) sendCancel(call *Call) {
	msg := sipmsg.NewRequest("CANCEL", call.remoteURI)
	h := msg.Headers()
	h.Set("Via", buildVia(ua.network(), ua.localAddr(), call.inviteBranch))
	h.Set("From", fmt.Sprintf("<%s>;tag=%s", call.localURI, call.localTag))
	h.Set("To", fmt.Sprintf("<%s>", call.remoteURI))
	h.Set("Call-ID", call.callID)
	h.Set("CSeq", strconv.Itoa(call.cseq)+" CANCEL")
	_ = ua.send(msg)
	ua.teardownCall(call, "Cancelled")
}

func (ua *UA) sendBye(call *Call) {
	call.mu.Lock()
	call.cseq++
	cseq := call.cseq
	call.mu.Unlock()

	msg := sipmsg.NewRequest("BYE", call.remoteURI)
	h := msg.Headers()
	branch := GenerateBranch()
	h.Set("Via", buildVia(ua.network(), ua.localAddr(), branch))
	h.Set("From", fmt.Sprintf("<%s>;tag=%s", call.localURI, call.localTag))
	to := fmt.Sprintf("<%s>", call.remoteURI)
	if call.remoteTag != "" {
		to += ";tag=" + call.remoteTag
	}
	h.Set("To", to)
	h.Set("Call-ID", call.callID)
	h.Set("CSeq", strconv.Itoa(cseq)+" BYE")

	byeKey := transaction.Key{Branch: branch, Method: "BYE"}
	tx := transaction.NewClientTransaction(byeKey, transaction.ClientHandlers{
		OnFinal: ua.clientFinal(byeKey, func(*sipmsg.Message) {}),
	})
	ua.registry.AddClient(tx)
	_ = ua.send(msg)
	ua.teardownCall(call, "Hangup")
}

// ToggleMute flips the outbound mute state of the active call's RTP
// engine and returns the new value. Calling it with no active call is a
// no-op that returns false.
func (ua *UA) ToggleMute() bool {
	ua.mu.Lock()
	call := ua.call
	ua.mu.Unlock()
	if call == nil {
		return false
	}
	call.mu.Lock()
	call.muted = !call.muted
	muted := call.muted
	call.mu.Unlock()
	call.rtp.SetMuted(muted)
	return muted
}

// SendDTMF sends the digit as a SIP INFO request within the active call.
func (ua *UA) SendDTMF(digit string) error {
	ua.mu.Lock()
	call := ua.call
	ua.mu.Unlock()
	if call == nil {
		return errtrace.Wrap(ErrNoActiveCall)
	}
	call.mu.Lock()
	if call.state != CallActive {
		call.mu.Unlock()
		return errtrace.Wrap(ErrCallNotActive)
	}
	call.cseq++
	cseq := call.cseq
	call.mu.Unlock()

	msg := sipmsg.NewRequest("INFO", call.remoteURI)
	h := msg.Headers()
	h.Set("Via", buildVia(ua.network(), ua.localAddr(), GenerateBranch()))
	h.Set("From", fmt.Sprintf("<%s>;tag=%s", call.localURI, call.localTag))
	to := fmt.Sprintf("<%s>", call.remoteURI)
	if call.remoteTag != "" {
		to += ";tag=" + call.remoteTag
	}
	h.Set("To", to)
	h.Set("Call-ID", call.callID)
	h.Set("CSeq", strconv.Itoa(cseq)+" INFO")
	h.Set("Content-Type", "application/dtmf-relay")
	msg.Body = []byte("Signal=" + digit + "\r\nDuration=160\r\n")
	return ua.send(msg)
}

// FeedMicAudio queues one PCM16LE block for the active call's RTP
// engine. A 20 ms/160-sample frame is expected but not required.
func (ua *UA) FeedMicAudio(pcm []byte) error {
	ua.mu.Lock()
	call := ua.call
	ua.mu.Unlock()
	if call == nil {
		return errtrace.Wrap(ErrNoActiveCall)
	}
	call.rtp.FeedMic(pcm)
	return nil
}

// --- inbound ---

func (ua *UA) handleInvite(msg *sipmsg.Message, tx *transaction.ServerTransaction) {
	branch, _ := viaBranch(msg)
	ua.mu.Lock()
	existing := ua.call
	ua.mu.Unlock()
	if existing != nil {
		ua.replyInvite(existing, 486, "Busy Here", msg, tx)
		return
	}

	callID, _ := msg.Headers().Get("Call-ID")
	from, _ := msg.Headers().Get("From")
	remoteTag, _ := viaParam(from, "tag")

	call := &Call{
		direction:    "inbound",
		state:        CallRingingIn,
		callID:       callID,
		localTag:     GenerateTag(),
		remoteTag:    remoteTag,
		localURI:     ua.cfg.AOR(),
		remoteURI:    strings.TrimSuffix(strings.TrimPrefix(from, "<"), ">"),
		inviteBranch: branch,
		inviteMsg:    msg,
		serverTx:     tx,
		rtp:          newRTPEngine(ua),
	}
	ua.mu.Lock()
	ua.call = call
	ua.mu.Unlock()

	ua.replyInvite(call, 100, "Trying", msg, tx)
	ua.replyInvite(call, 180, "Ringing", msg, tx)
	ua.sink.callState(CallRingingIn, call.remoteURI)
}

// replyInvite builds and sends a response on the inbound INVITE
// transaction, echoing Via/From/To/Call-ID/CSeq verbatim, with the
// stored local tag added to To. tx, when non-nil, records the response
// so a retransmitted INVITE gets it resent instead of reprocessed.
func (ua *UA) replyInvite(call *Call, status int, reason string, req *sipmsg.Message, tx *transaction.ServerTransaction) {
	if req == nil {
		req = call.inviteMsg
	}
	resp := sipmsg.NewResponse(status, reason)
	copyHeader(resp, req, "Via")
	copyHeader(resp, req, "From")
	to, _ := req.Headers().Get("To")
	resp.Headers().Set("To", addTag(to, call.localTag))
	copyHeader(resp, req, "Call-ID")
	copyHeader(resp, req, "CSeq")
	if status >= 180 {
		resp.Headers().Set("Contact", ua.contact())
	}
	_ = ua.send(resp)
	if tx != nil {
		tx.Respond(resp)
	}
}

// Answer accepts the pending inbound call.
func (ua *UA) Answer() error {
	ua.mu.Lock()
	call := ua.call
	ua.mu.Unlock()
	if call == nil {
		return errtrace.Wrap(ErrNoActiveCall)
	}
	call.mu.Lock()
	if call.state != CallRingingIn {
		call.mu.Unlock()
		return errtrace.Wrap(ErrCallNotRinging)
	}
	call.mu.Unlock()

	port, err := call.rtp.Bind()
	if err != nil {
		ua.teardownCall(call, "Media bind failed")
		return errtrace.Wrap(fmt.Errorf("%w: %w", ErrMedia, err))
	}

	var offeredPTs []int
	if call.remoteSDP != nil {
		offeredPTs = call.remoteSDP.PayloadTypes
	} else if call.inviteMsg != nil {
		if parsed, perr := sdp.Parse(call.inviteMsg.Body); perr == nil {
			call.remoteSDP = parsed
			offeredPTs = parsed.PayloadTypes
		}
	}
	pt := sdp.AnswerPayloadType(offeredPTs)

	answer := sdp.Offer{
		LocalIP:      ua.localIP,
		RTPPort:      port,
		PayloadTypes: []int{pt},
		User:         ua.cfg.Extension,
		SessionID:    time.Now().Unix(),
	}

	resp := sipmsg.NewResponse(200, "OK")
	copyHeader(resp, call.inviteMsg, "Via")
	copyHeader(resp, call.inviteMsg, "From")
	to, _ := call.inviteMsg.Headers().Get("To")
	resp.Headers().Set("To", addTag(to, call.localTag))
	copyHeader(resp, call.inviteMsg, "Call-ID")
	copyHeader(resp, call.inviteMsg, "CSeq")
	resp.Headers().Set("Contact", ua.contact())
	resp.Headers().Set("Content-Type", "application/sdp")
	resp.Body = answer.Build()
	if err := ua.send(resp); err != nil {
		return errtrace.Wrap(err)
	}
	if call.serverTx != nil {
		call.serverTx.Respond(resp)
	}

	call.mu.Lock()
	call.state = CallActive
	call.mu.Unlock()

	if call.remoteSDP != nil {
		if err := call.rtp.Start(call.remoteSDP.IP, call.remoteSDP.Port, uint8(pt)); err != nil {
			ua.logEvent(LogError, "rtp: "+err.Error())
		}
	}
	ua.sink.callState(CallActive, call.remoteURI)
	return nil
}

func (ua *UA) handleCancel(msg *sipmsg.Message, tx *transaction.ServerTransaction) {
	ua.mu.Lock()
	call := ua.call
	ua.mu.Unlock()
	if call == nil {
		return
	}
	branch, _ := viaBranch(msg)
	call.mu.Lock()
	matches := call.state == CallRingingIn && call.inviteBranch == branch
	call.mu.Unlock()
	if !matches {
		return
	}

	resp := sipmsg.NewResponse(200, "OK")
	copyHeader(resp, msg, "Via")
	copyHeader(resp, msg, "From")
	copyHeader(resp, msg, "To")
	copyHeader(resp, msg, "Call-ID")
	copyHeader(resp, msg, "CSeq")
	_ = ua.send(resp)
	tx.Respond(resp)

	ua.replyInvite(call, 487, "Request Terminated", nil, call.serverTx)
	ua.teardownCall(call, "Cancelled")
}

func (ua *UA) handleBye(msg *sipmsg.Message, tx *transaction.ServerTransaction) {
	ua.mu.Lock()
	call := ua.call
	ua.mu.Unlock()
	callID, _ := msg.Headers().Get("Call-ID")
	if call == nil || callID != call.callID {
		return
	}

	resp := sipmsg.NewResponse(200, "OK")
	copyHeader(resp, msg, "Via")
	copyHeader(resp, msg, "From")
	copyHeader(resp, msg, "To")
	copyHeader(resp, msg, "Call-ID")
	copyHeader(resp, msg, "CSeq")
	_ = ua.send(resp)
	tx.Respond(resp)

	ua.teardownCall(call, "Remote hangup")
}
