package dialog

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"braces.dev/errtrace"

	"github.com/dialtone/gophone/digest"
	"github.com/dialtone/gophone/sipmsg"
	"github.com/dialtone/gophone/transaction"
)

const (
	registerExpires    = 300
	registerRetryDelay = 5 * time.Second
	registerMaxRetries = 3
	minRefreshInterval = 60 * time.Second
)

// registration tracks one REGISTER lifecycle: CREATED on Register(),
// advancing through CHALLENGED -> AUTHENTICATED -> REFRESHING per §3's
// Registration State, destroyed on Unregister() or transport loss.
type registration struct {
	mu sync.Mutex

	callID   string
	localTag string
	cseq     int

	branch   string
	authSent bool
	retries  int

	retryTimer   *time.Timer
	refreshTimer *time.Timer
	stopped      bool
}

// Register starts (or restarts) the registration lifecycle.
func (ua *UA) Register() error {
	ua.mu.Lock()
	if ua.reg != nil {
		ua.reg.stop()
	}
	reg := &registration{
		callID:   GenerateCallID() + "@" + ua.cfg.Server,
		localTag: GenerateTag(),
		cseq:     1,
		branch:   GenerateBranch(),
	}
	ua.reg = reg
	ua.mu.Unlock()

	ua.sink.status(StatusConnecting, "Registering")
	ua.sendRegister(reg, registerExpires, nil)
	ua.armRetryTimer(reg)
	return nil
}

// Unregister sends a REGISTER with Expires: 0, then tears the transport
// down after 2s regardless of response, per §4.7 step 7.
func (ua *UA) Unregister() error {
	ua.mu.Lock()
	reg := ua.reg
	ua.mu.Unlock()
	if reg == nil {
		return errtrace.Wrap(ErrNotRegistered)
	}
	reg.stop()

	reg.mu.Lock()
	reg.branch = GenerateBranch()
	reg.cseq++
	reg.mu.Unlock()
	ua.sendRegister(reg, 0, nil)

	time.AfterFunc(2*time.Second, func() {
		ua.mu.Lock()
		proto := ua.proto
		ua.mu.Unlock()
		if proto != nil {
			proto.Close()
		}
	})
	return nil
}

func (ua *UA) sendRegister(reg *registration, expires int, authHeader *string) {
	reg.mu.Lock()
	branch := reg.branch
	cseq := reg.cseq
	callID := reg.callID
	localTag := reg.localTag
	reg.mu.Unlock()

	msg := sipmsg.NewRequest("REGISTER", "sip:"+ua.cfg.Server)
	h := msg.Headers()
	h.Set("Via", buildVia(ua.network(), ua.localAddr(), branch))
	h.Set("From", fmt.Sprintf("<%s>;tag=%s", ua.cfg.AOR(), localTag))
	h.Set("To", fmt.Sprintf("<%s>", ua.cfg.AOR()))
	h.Set("Call-ID", callID)
	h.Set("CSeq", strconv.Itoa(cseq)+" REGISTER")
	h.Set("Contact", ua.contact())
	h.Set("Allow", allowedMethods)
	h.Set("Max-Forwards", "70")
	h.Set("Expires", strconv.Itoa(expires))
	if authHeader != nil {
		h.Set("Authorization", *authHeader)
	}

	key := transaction.Key{Branch: branch, Method: "REGISTER"}
	tx := transaction.NewClientTransaction(key, transaction.ClientHandlers{
		OnFinal: ua.clientFinal(key, func(resp *sipmsg.Message) { ua.handleRegisterFinal(reg, resp) }),
	})
	ua.registry.AddClient(tx)
	_ = ua.send(msg)
}

func (ua *UA) armRetryTimer(reg *registration) {
	reg.mu.Lock()
	if reg.stopped {
		reg.mu.Unlock()
		return
	}
	reg.retryTimer = time.AfterFunc(registerRetryDelay, func() { ua.handleRegisterNoResponse(reg) })
	reg.mu.Unlock()
}

func (ua *UA) handleRegisterNoResponse(reg *registration) {
	reg.mu.Lock()
	if reg.stopped {
		reg.mu.Unlock()
		return
	}
	reg.retries++
	if reg.retries >= registerMaxRetries {
		reg.mu.Unlock()
		ua.sink.status(StatusDisconnected, "no response")
		return
	}
	reg.branch = GenerateBranch()
	reg.cseq++
	reg.mu.Unlock()

	ua.sendRegister(reg, registerExpires, nil)
	ua.armRetryTimer(reg)
}

func (ua *UA) handleRegisterFinal(reg *registration, resp *sipmsg.Message) {
	reg.mu.Lock()
	if reg.stopped {
		reg.mu.Unlock()
		return
	}
	reg.retryTimer.Stop()
	reg.mu.Unlock()

	switch {
	case resp.StatusCode == 401 || resp.StatusCode == 407:
		ua.retryRegisterWithAuth(reg, resp)
	case resp.StatusCode == 200:
		ua.onRegistered(reg, resp)
	default:
		ua.sink.status(StatusDisconnected, strconv.Itoa(resp.StatusCode)+" "+resp.Reason)
	}
}

func (ua *UA) retryRegisterWithAuth(reg *registration, resp *sipmsg.Message) {
	reg.mu.Lock()
	if reg.authSent {
		reg.mu.Unlock()
		ua.sink.status(StatusDisconnected, "auth failed")
		return
	}
	reg.authSent = true
	reg.cseq++
	reg.branch = GenerateBranch()
	reg.mu.Unlock()

	challengeHeader, ok := resp.Headers().Get("WWW-Authenticate")
	if !ok {
		challengeHeader, ok = resp.Headers().Get("Proxy-Authenticate")
	}
	if !ok {
		ua.sink.status(StatusDisconnected, "auth challenge missing")
		return
	}
	challenge, err := digest.ParseChallenge(challengeHeader)
	if err != nil {
		ua.logEvent(LogError, "digest: "+err.Error())
		ua.sink.status(StatusDisconnected, "auth challenge unparseable")
		return
	}
	auth := digest.Authorization(challenge, digest.Credentials{
		Username: ua.cfg.Extension,
		Password: ua.cfg.Password,
		Method:   "REGISTER",
		URI:      "sip:" + ua.cfg.Server,
	})
	ua.sendRegister(reg, registerExpires, &auth)
	ua.armRetryTimer(reg)
}

func (ua *UA) onRegistered(reg *registration, resp *sipmsg.Message) {
	reg.mu.Lock()
	reg.retries = 0
	reg.authSent = false
	reg.mu.Unlock()

	ua.sink.status(StatusConnected, "Registered")
	ua.scheduleRefresh(reg, grantedExpires(resp))
}

func grantedExpires(resp *sipmsg.Message) int {
	if v, ok := resp.Headers().Get("Expires"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return registerExpires
}

func (ua *UA) scheduleRefresh(reg *registration, grantedSeconds int) {
	interval := time.Duration(grantedSeconds) * time.Second * 5 / 6
	if interval < minRefreshInterval {
		interval = minRefreshInterval
	}

	reg.mu.Lock()
	if reg.stopped {
		reg.mu.Unlock()
		return
	}
	reg.refreshTimer = time.AfterFunc(interval, func() { ua.refreshRegistration(reg) })
	reg.mu.Unlock()
}

func (ua *UA) refreshRegistration(reg *registration) {
	reg.mu.Lock()
	if reg.stopped {
		reg.mu.Unlock()
		return
	}
	reg.branch = GenerateBranch()
	reg.cseq++
	reg.mu.Unlock()

	ua.sendRegister(reg, registerExpires, nil)
	ua.armRetryTimer(reg)
}

// stop cancels both timers. Idempotent.
func (reg *registration) stop() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.stopped {
		return
	}
	reg.stopped = true
	if reg.retryTimer != nil {
		reg.retryTimer.Stop()
	}
	if reg.refreshTimer != nil {
		reg.refreshTimer.Stop()
	}
}
