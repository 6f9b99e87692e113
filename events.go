package gophone

import "github.com/dialtone/gophone/dialog"

// LogLevel, Status, and CallState mirror dialog's event vocabulary.
// They are redeclared here, rather than aliased, so the public API
// surface does not leak the internal dialog package.
type LogLevel string
type Status string
type CallState string

const (
	LogInfo  LogLevel = "info"
	LogSIP   LogLevel = "sip"
	LogCall  LogLevel = "call"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
	LogDebug LogLevel = "debug"
)

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

const (
	CallIdle      CallState = "idle"
	CallCalling   CallState = "calling"
	CallRinging   CallState = "ringing"
	CallRingingIn CallState = "ringing-in"
	CallActive    CallState = "active"
)

// Event is the closed event sum delivered to whatever sink was installed
// with Configure, per §9's "Replacing event-emitter dispatch" note and
// §6's outbound event list. Exactly one field is set.
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

// EventSink receives every event a Phone publishes. It must tolerate
// concurrent calls or serialize them itself.
type EventSink func(Event)

// adapt translates a dialog.Event into the public Event shape and
// forwards it to sink, isolating the public API from the internal
// dialog package (per the "avoiding cyclic references" design note,
// dialog never imports this package, so the translation runs this way).
func adapt(sink EventSink) dialog.Sink {
	if sink == nil {
		return nil
	}
	return func(ev dialog.Event) {
		out := Event{}
		switch {
		case ev.Log != nil:
			out.Log = &LogEvent{Level: LogLevel(ev.Log.Level), Text: ev.Log.Text}
		case ev.Status != nil:
			out.Status = &StatusEvent{State: Status(ev.Status.State), Text: ev.Status.Text}
		case ev.CallState != nil:
			out.CallState = &CallStateEvent{State: CallState(ev.CallState.State), Info: ev.CallState.Info}
		case ev.RemoteAudio != nil:
			out.RemoteAudio = ev.RemoteAudio
		}
		sink(out)
	}
}
