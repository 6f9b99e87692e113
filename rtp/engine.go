// Package rtp implements the fixed-cadence RTP sender/receiver described
// in §4.2: a 20 ms tick that drains a microphone queue or pads with the
// codec's silence byte, symmetric-RTP source learning, and G.711 payload
// conversion. Header assembly/parsing is delegated to github.com/pion/rtp.
package rtp

import (
	"crypto/rand"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"braces.dev/errtrace"
	pionrtp "github.com/pion/rtp"

	"github.com/dialtone/gophone/codec"
	"github.com/dialtone/gophone/log"
)

const (
	sampleRate       = 8000
	packetTime       = 20 * time.Millisecond
	samplesPerPacket = 160 // 8000 Hz * 20 ms
	tsPerPacket      = 160
)

// Event is published to Sink for everything the engine observes: decoded
// inbound audio, learned remote endpoints, and non-fatal send/recv errors.
type Event struct {
	PCM           []byte // set on inbound audio
	LearnedRemote *net.UDPAddr
	Err           error
}

// Sink receives engine events. It must be safe to call from the engine's
// own goroutines; the engine never blocks waiting on it.
type Sink func(Event)

// Engine is one RTP session: a bound UDP socket, an outbound 20 ms
// ticker, and an inbound read loop.
type Engine struct {
	log  log.Logger
	sink Sink

	conn *net.UDPConn
	ssrc uint32

	mu        sync.Mutex
	remote    *net.UDPAddr
	learned   bool
	pt        uint8
	seq       uint16
	ts        uint32
	muted     bool
	active    bool
	pending   [][]byte
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// New builds an unbound Engine. Call Bind then Start to begin a session.
func New(logger log.Logger, sink Sink) *Engine {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	var b [4]byte
	_, _ = rand.Read(b[:])
	return &Engine{
		log:  logger,
		sink: sink,
		ssrc: binary.BigEndian.Uint32(b[:]),
	}
}

// Bind opens a UDP socket on an ephemeral port bound to 0.0.0.0 and
// returns that port.
func (e *Engine) Bind() (int, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return 0, errtrace.Wrap(err)
	}
	e.conn = conn
	return conn.LocalAddr().(*net.UDPAddr).Port, nil
}

// Start begins the 20 ms send tick toward (remoteAddr, remotePort) using
// payload type pt, and the inbound receive loop.
func (e *Engine) Start(remoteAddr string, remotePort int, pt uint8) error {
	e.mu.Lock()
	if remoteAddr != "" && remoteAddr != "0.0.0.0" {
		ip := net.ParseIP(remoteAddr)
		if ip == nil {
			e.mu.Unlock()
			return errtrace.Wrap(&net.AddrError{Err: "invalid remote RTP address", Addr: remoteAddr})
		}
		e.remote = &net.UDPAddr{IP: ip, Port: remotePort}
	}
	e.pt = pt
	e.active = true
	e.stopCh = make(chan struct{})
	e.stoppedCh = make(chan struct{})
	e.mu.Unlock()

	go e.recvLoop()
	go e.sendLoop()
	return nil
}

// FeedMic appends one opaque PCM block to the outbound queue. Blocks are
// consumed at most one per tick.
func (e *Engine) FeedMic(pcm []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = append(e.pending, pcm)
}

// SetMuted toggles whether outbound ticks emit silence regardless of the
// queue contents.
func (e *Engine) SetMuted(muted bool) {
	e.mu.Lock()
	e.muted = muted
	e.mu.Unlock()
}

// UpdateRemote rebinds the destination without disturbing seq/ts/ssrc.
func (e *Engine) UpdateRemote(ip string, port int) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return
	}
	e.mu.Lock()
	e.remote = &net.UDPAddr{IP: parsed, Port: port}
	e.mu.Unlock()
}

// Close stops the send/recv loops and closes the socket. Idempotent:
// calling Close twice, or after the engine was never started, is safe
// and never emits after this call returns.
func (e *Engine) Close() {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		if e.conn != nil {
			e.conn.Close()
		}
		return
	}
	e.active = false
	stopCh := e.stopCh
	stoppedCh := e.stoppedCh
	e.mu.Unlock()

	close(stopCh)
	if e.conn != nil {
		e.conn.Close()
	}
	<-stoppedCh
}

func (e *Engine) sendLoop() {
	defer close(e.stoppedCh)

	next := time.Now().Add(packetTime)
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-timer.C:
			e.sendTick()
			next = next.Add(packetTime)
			d := time.Until(next)
			if d < 0 {
				d = 0
			}
			timer.Reset(d)
		}
	}
}

func (e *Engine) sendTick() {
	e.mu.Lock()
	pt := e.pt
	remote := e.remote
	muted := e.muted
	var block []byte
	if !muted && len(e.pending) > 0 {
		block = e.pending[0]
		e.pending = e.pending[1:]
	}
	seq := e.seq
	ts := e.ts
	e.seq++
	e.ts += tsPerPacket
	e.mu.Unlock()

	var payload []byte
	switch pt {
	case 0:
		if block != nil {
			payload = codec.EncodeMuLaw(block)
		} else {
			payload = silence(codec.MuLawSilence)
		}
	case 8:
		if block != nil {
			payload = codec.EncodeALaw(block)
		} else {
			payload = silence(codec.ALawSilence)
		}
	default:
		payload = silence(codec.MuLawSilence)
	}

	pkt := &pionrtp.Packet{
		Header: pionrtp.Header{
			Version:        2,
			PayloadType:    pt,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           e.ssrc,
		},
		Payload: payload,
	}
	raw, err := pkt.Marshal()
	if err != nil {
		e.emit(Event{Err: errtrace.Wrap(err)})
		return
	}

	if remote == nil || e.conn == nil {
		return
	}
	if _, err := e.conn.WriteToUDP(raw, remote); err != nil {
		e.emit(Event{Err: errtrace.Wrap(err)})
	}
}

func silence(b byte) []byte {
	out := make([]byte, samplesPerPacket)
	for i := range out {
		out[i] = b
	}
	return out
}

func (e *Engine) recvLoop() {
	buf := make([]byte, 1500)
	for {
		select {
		case <-e.stopCh:
			return
		default:
		}

		n, src, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-e.stopCh:
				return
			default:
			}
			e.emit(Event{Err: errtrace.Wrap(err)})
			return
		}
		e.handleInbound(buf[:n], src)
	}
}

func (e *Engine) handleInbound(data []byte, src *net.UDPAddr) {
	if len(data) < 12 {
		return
	}
	if data[0]>>6 != 2 {
		return
	}

	// Symmetric RTP: the source of the first valid inbound packet always
	// becomes the send target, even if an offer/answer already set one —
	// SDP-advertised ports are frequently wrong behind NAT.
	e.mu.Lock()
	learn := !e.learned
	if learn {
		e.learned = true
		e.remote = src
	}
	e.mu.Unlock()
	if learn {
		e.log.Info("learned RTP remote endpoint", map[string]any{"addr": src.String()})
		e.emit(Event{LearnedRemote: src})
	}

	var pkt pionrtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		return
	}

	var pcm []byte
	switch pkt.PayloadType {
	case 0:
		pcm = codec.DecodeMuLaw(pkt.Payload)
	case 8:
		pcm = codec.DecodeALaw(pkt.Payload)
	default:
		return
	}
	e.emit(Event{PCM: pcm})
}

func (e *Engine) emit(ev Event) {
	e.mu.Lock()
	active := e.active
	e.mu.Unlock()
	if !active || e.sink == nil {
		return
	}
	e.sink(ev)
}
