package dialog

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"braces.dev/errtrace"

	"github.com/dialtone/gophone/log"
	"github.com/dialtone/gophone/resolve"
	"github.com/dialtone/gophone/sipmsg"
	"github.com/dialtone/gophone/transaction"
	"github.com/dialtone/gophone/transport"
)

// allowedMethods lists the methods this UA accepts, advertised on every
// Allow header it sends (REGISTER/INVITE builders and the OPTIONS/NOTIFY
// keepalive handler), per SPEC_FULL's "Allow header contents" note.
const allowedMethods = "INVITE, ACK, CANCEL, BYE, OPTIONS, INFO, NOTIFY"

// UA is one user agent instance: a transport, a transaction registry, at
// most one Registration and one Call. Every mutation of shared state
// happens under mu, per §5's single-actor concurrency model.
type UA struct {
	cfg      Config
	log      log.Logger
	sink     Sink
	resolver *resolve.Resolver
	registry *transaction.Registry

	mu        sync.Mutex
	proto     transport.Protocol
	localIP   string
	localPort int

	reg     *registration
	call    *Call
	stopped bool
}

// NewUA builds an unstarted UA. Call Start before Register/Invite.
func NewUA(cfg Config, logger log.Logger, sink Sink) *UA {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &UA{
		cfg:      cfg,
		log:      logger,
		sink:     sink,
		resolver: &resolve.Resolver{},
		registry: transaction.NewRegistry(),
	}
}

// Start resolves the registrar and opens the configured transport.
func (ua *UA) Start() error {
	remoteIP, err := ua.resolver.LookupA(context.Background(), ua.cfg.Server)
	if err != nil {
		ua.logEvent(LogError, "dns lookup failed: "+err.Error())
		return errtrace.Wrap(err)
	}
	port := transport.ResolvedPort(ua.cfg.Network, ua.cfg.Port)
	target := transport.Target{Host: remoteIP.String(), Port: port, ServerName: ua.cfg.Server}

	localIP, err := resolve.LocalIPFor(target.Addr())
	if err != nil {
		ua.logEvent(LogError, "local route lookup failed: "+err.Error())
		return errtrace.Wrap(err)
	}

	var proto transport.Protocol
	switch ua.cfg.Network {
	case "TCP":
		proto, err = transport.DialTCP(target, ua.log, ua.deliver, ua.lost)
	case "TLS":
		proto, err = transport.DialTLS(target, ua.log, ua.deliver, ua.lost)
	default:
		proto, err = transport.DialUDP(target, ua.log, ua.deliver, ua.lost)
	}
	if err != nil {
		ua.logEvent(LogError, "transport dial failed: "+err.Error())
		return errtrace.Wrap(err)
	}

	_, portStr, splitErr := net.SplitHostPort(proto.LocalAddr())
	localPort := ua.cfg.Port
	if splitErr == nil {
		if n, convErr := strconv.Atoi(portStr); convErr == nil {
			localPort = n
		}
	}

	ua.mu.Lock()
	ua.proto = proto
	ua.localIP = localIP.String()
	ua.localPort = localPort
	ua.mu.Unlock()
	return nil
}

// Stop is idempotent: it cancels all timers, closes the transport,
// terminates any ongoing call with reason "Stopped", and never delivers
// further events after it returns.
func (ua *UA) Stop() {
	ua.mu.Lock()
	if ua.stopped {
		ua.mu.Unlock()
		return
	}
	ua.stopped = true
	reg := ua.reg
	call := ua.call
	proto := ua.proto
	ua.mu.Unlock()

	if call != nil {
		call.terminate(ua, "Stopped")
	}
	if reg != nil {
		reg.stop()
	}
	if proto != nil {
		proto.Close()
	}
}

func (ua *UA) lost() {
	ua.mu.Lock()
	if ua.stopped {
		ua.mu.Unlock()
		return
	}
	ua.stopped = true
	reg := ua.reg
	call := ua.call
	ua.mu.Unlock()

	ua.logEvent(LogError, "transport connection lost")
	ua.sink.status(StatusDisconnected, "transport lost")
	if call != nil {
		call.terminate(ua, "Stopped")
	}
	if reg != nil {
		reg.stop()
	}
}

// send serializes msg and writes it to the transport, logging failures
// as non-fatal per §7's error propagation policy.
func (ua *UA) send(msg *sipmsg.Message) error {
	ua.mu.Lock()
	proto := ua.proto
	ua.mu.Unlock()
	if proto == nil {
		return errtrace.Wrap(ErrTransportNotStarted)
	}
	ua.logEvent(LogSIP, "send: "+msg.Short())
	if err := proto.Send(msg.Serialize()); err != nil {
		ua.logEvent(LogError, "send failed: "+err.Error())
		return errtrace.Wrap(err)
	}
	return nil
}

func (ua *UA) network() string {
	ua.mu.Lock()
	defer ua.mu.Unlock()
	if ua.proto != nil {
		return ua.proto.Network()
	}
	return ua.cfg.Network
}

func (ua *UA) localAddr() string {
	ua.mu.Lock()
	defer ua.mu.Unlock()
	return fmt.Sprintf("%s:%d", ua.localIP, ua.localPort)
}

func (ua *UA) contact() string {
	return fmt.Sprintf("<sip:%s@%s;transport=%s>", ua.cfg.Extension, ua.localAddr(), toLowerNetwork(ua.network()))
}

// logEvent publishes a log line to the event sink and, simultaneously,
// to the structured logger, per SPEC_FULL's ambient logging requirement
// that every logged event reach both surfaces.
func (ua *UA) logEvent(level LogLevel, text string) {
	ua.sink.log(level, text)
	flds := map[string]any{"level": string(level)}
	switch level {
	case LogError:
		ua.log.Error(text, flds)
	case LogWarn:
		ua.log.Warn(text, flds)
	case LogDebug:
		ua.log.Debug(text, flds)
	default:
		ua.log.Info(text, flds)
	}
}

func toLowerNetwork(network string) string {
	switch network {
	case "TLS":
		return "tls"
	case "TCP":
		return "tcp"
	default:
		return "udp"
	}
}

// deliver is the transport's Deliver callback: parse, classify, and
// route to the registration, the call, or an inbound server transaction.
func (ua *UA) deliver(data []byte, sourceAddr string) {
	ua.mu.Lock()
	if ua.stopped {
		ua.mu.Unlock()
		return
	}
	ua.mu.Unlock()

	msg, err := sipmsg.Parse(data)
	if err != nil {
		ua.logEvent(LogWarn, "dropped unparseable message from "+sourceAddr+": "+err.Error())
		return
	}
	ua.logEvent(LogSIP, "recv: "+msg.Short())

	if !msg.IsRequest() {
		ua.handleResponse(msg)
		return
	}
	ua.handleRequest(msg)
}

func (ua *UA) handleResponse(msg *sipmsg.Message) {
	branch, ok := viaBranch(msg)
	if !ok {
		ua.logEvent(LogWarn, "response with no Via branch, dropped")
		return
	}
	_, method, ok := cseqParts(msg)
	if !ok {
		ua.logEvent(LogWarn, "response with no CSeq, dropped")
		return
	}
	key := transaction.Key{Branch: branch, Method: method}
	tx, ok := ua.registry.Client(key)
	if !ok {
		ua.logEvent(LogDebug, "response for unknown transaction, dropped")
		return
	}
	tx.Deliver(msg)
}

// clientFinal wraps a client transaction's OnFinal handler so the
// transaction terminates and drops out of the registry once its final
// response has been processed.
func (ua *UA) clientFinal(key transaction.Key, handler func(*sipmsg.Message)) func(*sipmsg.Message) {
	return func(resp *sipmsg.Message) {
		handler(resp)
		if tx, ok := ua.registry.Client(key); ok {
			tx.Terminate()
		}
		ua.registry.RemoveClient(key)
	}
}

func (ua *UA) handleRequest(msg *sipmsg.Message) {
	switch msg.Method {
	case "INVITE", "CANCEL", "BYE":
		ua.handleTrackedRequest(msg)
	case "OPTIONS", "NOTIFY":
		ua.handleKeepaliveRequest(msg)
	default:
		ua.logEvent(LogDebug, "unhandled inbound method "+msg.Method)
	}
}

// handleTrackedRequest opens (or finds) the server transaction for an
// inbound INVITE/CANCEL/BYE before dispatching it, per §4.7. A request
// that arrives on a branch+method already in the registry is a
// retransmission: the transaction's last recorded response is resent
// and the request is not reprocessed. CANCEL and BYE transactions are
// removed from the registry as soon as they are handled, so only INVITE
// retransmissions are caught this way.
func (ua *UA) handleTrackedRequest(msg *sipmsg.Message) {
	branch, ok := viaBranch(msg)
	if !ok {
		ua.logEvent(LogWarn, msg.Method+" with no Via branch, dropped")
		return
	}
	key := transaction.Key{Branch: branch, Method: msg.Method}

	if tx, ok := ua.registry.Server(key); ok {
		if resp := tx.LastResponse(); resp != nil {
			ua.logEvent(LogDebug, "retransmitted "+msg.Method+", resending last response")
			_ = ua.send(resp)
		}
		return
	}

	tx := transaction.NewServerTransaction(key, msg)
	ua.registry.AddServer(tx)

	switch msg.Method {
	case "INVITE":
		ua.handleInvite(msg, tx)
	case "CANCEL":
		ua.handleCancel(msg, tx)
		ua.registry.RemoveServer(key)
	case "BYE":
		ua.handleBye(msg, tx)
		ua.registry.RemoveServer(key)
	}
}
