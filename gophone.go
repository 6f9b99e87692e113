// Package gophone is the embeddable core of a single-user SIP softphone:
// SIP signaling (RFC 3261 subset), HTTP Digest auth, SDP offer/answer,
// and an RTP media engine with G.711 codecs. It registers with a SIP
// registrar, places and receives calls, and streams audio in both
// directions; everything outside that — UI, dialpad, config storage,
// mic/speaker hardware, DNS service discovery beyond a single A-record
// lookup — is the embedding shell's responsibility.
package gophone

import (
	"errors"
	"sync"

	"braces.dev/errtrace"
	"github.com/sirupsen/logrus"

	"github.com/dialtone/gophone/dialog"
	"github.com/dialtone/gophone/log"
	"github.com/dialtone/gophone/transport"
)

// mapErr translates a dialog-layer failure into the Error kind the
// shell sees. dialog cannot reference these kinds itself — it never
// imports this package, per its own layering note — so the mapping
// lives here, at the boundary where dialog errors cross into gophone.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, dialog.ErrAlreadyInCall):
		return ErrAlreadyInCall
	case errors.Is(err, dialog.ErrNoActiveCall),
		errors.Is(err, dialog.ErrCallNotRinging),
		errors.Is(err, dialog.ErrCallNotActive):
		return ErrNoActiveCall
	case errors.Is(err, dialog.ErrNotRegistered):
		return ErrNotRegistered
	case errors.Is(err, dialog.ErrMedia):
		return ErrMedia
	case errors.Is(err, dialog.ErrTransportNotStarted):
		return ErrTransport
	}
	var protoErr *transport.ProtocolError
	if errors.As(err, &protoErr) {
		return ErrTransport
	}
	return err
}

// Phone is the single subject this package exposes. One Phone handles
// at most one registration and one call, per §3/§5's single-actor model.
type Phone struct {
	mu  sync.Mutex
	cfg Config
	ua  *dialog.UA
}

// Configure validates cfg, opens the configured transport, and installs
// sink as the destination for every event this Phone emits from then on.
// It does not register; call Register separately.
func (p *Phone) Configure(cfg Config, sink EventSink) error {
	valid, err := cfg.Validated()
	if err != nil {
		return errtrace.Wrap(err)
	}

	logger := log.NewDefaultLogger("gophone", logrus.InfoLevel, nil)
	ua := dialog.NewUA(dialog.Config{
		Server:      valid.Server,
		Port:        valid.Port,
		Network:     valid.networkToken(),
		Extension:   valid.Extension,
		Password:    valid.Password,
		DisplayName: valid.DisplayName,
	}, logger, adapt(sink))

	if err := ua.Start(); err != nil {
		return errtrace.Wrap(mapErr(err))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = valid
	p.ua = ua
	return nil
}

func (p *Phone) currentUA() (*dialog.UA, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ua == nil {
		return nil, errtrace.Wrap(ErrNotConfigured)
	}
	return p.ua, nil
}

// Register starts the REGISTER lifecycle of §4.7.
func (p *Phone) Register() error {
	ua, err := p.currentUA()
	if err != nil {
		return err
	}
	return errtrace.Wrap(mapErr(ua.Register()))
}

// Unregister sends a zero-Expires REGISTER and tears the transport down.
func (p *Phone) Unregister() error {
	ua, err := p.currentUA()
	if err != nil {
		return err
	}
	return errtrace.Wrap(mapErr(ua.Unregister()))
}

// Invite places an outbound call. target is either "user@host" or a bare
// dial string, appended with "@server".
func (p *Phone) Invite(target string) error {
	ua, err := p.currentUA()
	if err != nil {
		return err
	}
	return errtrace.Wrap(mapErr(ua.Invite(target)))
}

// Answer accepts the pending inbound call.
func (p *Phone) Answer() error {
	ua, err := p.currentUA()
	if err != nil {
		return err
	}
	return errtrace.Wrap(mapErr(ua.Answer()))
}

// Hangup ends the current call, whatever state it is in.
func (p *Phone) Hangup() error {
	ua, err := p.currentUA()
	if err != nil {
		return err
	}
	return errtrace.Wrap(mapErr(ua.Hangup()))
}

// ToggleMute flips outbound mute on the active call and returns the new
// value. A no-op returning false if there is no active call.
func (p *Phone) ToggleMute() bool {
	ua, err := p.currentUA()
	if err != nil {
		return false
	}
	return ua.ToggleMute()
}

// SendDTMF sends digit as a SIP INFO request within the active call.
func (p *Phone) SendDTMF(digit string) error {
	ua, err := p.currentUA()
	if err != nil {
		return err
	}
	return errtrace.Wrap(mapErr(ua.SendDTMF(digit)))
}

// FeedMicAudio queues one PCM16LE frame (160 samples / 320 bytes
// strongly preferred) for the active call's RTP engine.
func (p *Phone) FeedMicAudio(pcm []byte) error {
	ua, err := p.currentUA()
	if err != nil {
		return err
	}
	return errtrace.Wrap(mapErr(ua.FeedMicAudio(pcm)))
}

// Stop is idempotent: it cancels all timers, closes the transport,
// terminates any ongoing call with reason "Stopped", and delivers no
// further events after it returns.
func (p *Phone) Stop() {
	p.mu.Lock()
	ua := p.ua
	p.mu.Unlock()
	if ua != nil {
		ua.Stop()
	}
}
