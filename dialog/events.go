// Package dialog implements the registration and call dialog state
// machines of §4.7: REGISTER lifecycle with retries and refresh,
// outbound/inbound INVITE, BYE/CANCEL/INFO, OPTIONS/NOTIFY keepalive,
// and SDP/RTP wiring. It never imports the root package — events flow
// out through Sink, installed at construction, the same pattern the
// rtp package uses to avoid a UA<->dialog reference cycle.
package dialog

// LogLevel names the severity of a logged line surfaced to the shell.
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogSIP   LogLevel = "sip"
	LogCall  LogLevel = "call"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
	LogDebug LogLevel = "debug"
)

// Status names the registration connectivity state.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// CallState names the call dialog state.
type CallState string

const (
	CallIdle      CallState = "idle"
	CallCalling   CallState = "calling"
	CallRinging   CallState = "ringing"
	CallRingingIn CallState = "ringing-in"
	CallActive    CallState = "active"
)

// Event is the closed event sum emitted by a UA, per §9's "Replacing
// event-emitter dispatch" design note. Exactly one field is set.
type Event struct {
	Log         *LogEvent
	Status      *StatusEvent
	CallState   *CallStateEvent
	RemoteAudio []byte
}

type LogEvent struct {
	Level LogLevel
	Text  string
}

type StatusEvent struct {
	State Status
	Text  string
}

type CallStateEvent struct {
	State CallState
	Info  string
}

// Sink receives every event a UA publishes. It must tolerate concurrent
// calls or serialize them itself; the UA never blocks waiting on it.
type Sink func(Event)

func (s Sink) log(level LogLevel, text string) {
	if s == nil {
		return
	}
	s(Event{Log: &LogEvent{Level: level, Text: text}})
}

func (s Sink) status(state Status, text string) {
	if s == nil {
		return
	}
	s(Event{Status: &StatusEvent{State: state, Text: text}})
}

func (s Sink) callState(state CallState, info string) {
	if s == nil {
		return
	}
	s(Event{CallState: &CallStateEvent{State: state, Info: info}})
}

func (s Sink) remoteAudio(pcm []byte) {
	if s == nil {
		return
	}
	s(Event{RemoteAudio: pcm})
}
