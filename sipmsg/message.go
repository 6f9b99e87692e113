// Package sipmsg implements the tolerant, line-based SIP message model: an
// ordered header multimap, start-line classification, and Content-Length
// framing rules. It deliberately does not implement RFC 3261 ABNF grammar
// validation — malformed but structurally parseable messages are accepted.
package sipmsg

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"braces.dev/errtrace"
)

// Message is either a request or a response, never both.
type Message struct {
	// Request fields. Method and RequestURI are empty on a response.
	Method     string
	RequestURI string

	// Response fields. StatusCode is zero on a request.
	StatusCode int
	Reason     string

	headers Headers
	Body    []byte

	// Raw is the original bytes the message was parsed from, kept only
	// for logging. Nil for messages built in-process.
	Raw []byte
}

// IsRequest reports whether m is a request.
func (m *Message) IsRequest() bool { return m.Method != "" }

// NewRequest builds an empty request message with no headers or body.
func NewRequest(method, requestURI string) *Message {
	return &Message{Method: method, RequestURI: requestURI, headers: NewHeaders()}
}

// NewResponse builds an empty response message with no headers or body.
func NewResponse(status int, reason string) *Message {
	return &Message{StatusCode: status, Reason: reason, headers: NewHeaders()}
}

// Headers returns the message's header multimap, initializing it if this
// Message was built with the zero value.
func (m *Message) Headers() Headers {
	if m.headers == nil {
		m.headers = NewHeaders()
	}
	return m.headers
}

// Short renders a compact one-line description, used for log lines.
func (m *Message) Short() string {
	if m.IsRequest() {
		return fmt.Sprintf("%s %s SIP/2.0", m.Method, m.RequestURI)
	}
	return fmt.Sprintf("SIP/2.0 %d %s", m.StatusCode, m.Reason)
}

// Serialize renders m to wire bytes. Content-Length is always recomputed
// from len(Body) regardless of what the header multimap holds.
func (m *Message) Serialize() []byte {
	var b strings.Builder

	if m.IsRequest() {
		fmt.Fprintf(&b, "%s %s SIP/2.0\r\n", m.Method, m.RequestURI)
	} else {
		fmt.Fprintf(&b, "SIP/2.0 %d %s\r\n", m.StatusCode, m.Reason)
	}

	h := m.Headers()
	h.Set("Content-Length", strconv.Itoa(len(m.Body)))
	for _, kv := range h.Ordered() {
		for _, v := range kv.Values {
			fmt.Fprintf(&b, "%s: %s\r\n", kv.Name, v)
		}
	}
	b.WriteString("\r\n")

	out := make([]byte, 0, b.Len()+len(m.Body))
	out = append(out, []byte(b.String())...)
	out = append(out, m.Body...)
	return out
}

// Parse decodes one SIP message from data. It is tolerant: headers need
// not match any ABNF grammar, only `name: value` line shape.
func Parse(data []byte) (*Message, error) {
	headerEnd := indexOfCRLFCRLF(data)
	if headerEnd < 0 {
		return nil, errtrace.Wrap(ParseError("no header/body separator found"))
	}

	lines := strings.Split(string(data[:headerEnd]), "\r\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, errtrace.Wrap(ParseError("empty start line"))
	}

	m := &Message{headers: NewHeaders(), Raw: data}
	if err := parseStartLine(m, lines[0]); err != nil {
		return nil, errtrace.Wrap(err)
	}

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		m.headers.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	bodyStart := headerEnd + 4
	rest := data[bodyStart:]
	if cl, ok := m.headers.Get("Content-Length"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(cl))
		if err != nil {
			return nil, errtrace.Wrap(ParseError("invalid Content-Length: " + cl))
		}
		if n < 0 || n > len(rest) {
			return nil, errtrace.Wrap(ParseError("Content-Length exceeds available bytes"))
		}
		m.Body = rest[:n]
	} else {
		m.Body = rest
	}

	return m, nil
}

func parseStartLine(m *Message, line string) error {
	if strings.HasPrefix(line, "SIP/2.0") {
		fields := strings.SplitN(line, " ", 3)
		if len(fields) < 2 {
			return errtrace.Wrap(ParseError("malformed status line: " + line))
		}
		code, err := strconv.Atoi(fields[1])
		if err != nil {
			return errtrace.Wrap(ParseError("malformed status code: " + fields[1]))
		}
		m.StatusCode = code
		if len(fields) == 3 {
			m.Reason = fields[2]
		}
		return nil
	}

	fields := strings.SplitN(line, " ", 3)
	if len(fields) != 3 || fields[2] != "SIP/2.0" {
		return errtrace.Wrap(ParseError("malformed request line: " + line))
	}
	m.Method = fields[0]
	m.RequestURI = fields[1]
	return nil
}

func indexOfCRLFCRLF(data []byte) int {
	return bytes.Index(data, []byte("\r\n\r\n"))
}

// ParseError is returned for structurally unparseable input.
type ParseError string

func (e ParseError) Error() string { return string(e) }
