package transport

import (
	"net"
	"time"

	"braces.dev/errtrace"

	"github.com/dialtone/gophone/log"
)

const connectTimeout = 10 * time.Second

// tcpProtocol is a single stream connection to the registrar, framed by
// Content-Length per §4.5. Loss of the stream is terminal: no automatic
// reconnect, the caller re-invokes register().
type tcpProtocol struct {
	conn net.Conn
	log  log.Logger
}

// DialTCP connects to remote and starts the framed read loop.
func DialTCP(remote Target, logger log.Logger, deliver Deliver, lost Lost) (Protocol, error) {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	conn, err := net.DialTimeout("tcp4", remote.Addr(), connectTimeout)
	if err != nil {
		return nil, errtrace.Wrap(&ProtocolError{Err: err, Op: "connect", Network: "TCP"})
	}

	t := &tcpProtocol{conn: conn, log: logger}
	go readFramed(conn, deliver, lost)
	return t, nil
}

func (t *tcpProtocol) Network() string { return "TCP" }
func (t *tcpProtocol) Reliable() bool  { return true }

func (t *tcpProtocol) LocalAddr() string { return t.conn.LocalAddr().String() }

func (t *tcpProtocol) Send(data []byte) error {
	if _, err := t.conn.Write(data); err != nil {
		return errtrace.Wrap(&ProtocolError{Err: err, Op: "write", Network: "TCP"})
	}
	return nil
}

func (t *tcpProtocol) Close() error {
	return t.conn.Close()
}

// readFramed drives a framer over conn's byte stream until it closes,
// delivering one whole message at a time in arrival order.
func readFramed(conn net.Conn, deliver Deliver, lost Lost) {
	f := &framer{}
	buf := make([]byte, 4096)
	remote := conn.RemoteAddr().String()
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			for _, msg := range f.Feed(buf[:n]) {
				deliver(msg, remote)
			}
		}
		if err != nil {
			if lost != nil {
				lost()
			}
			return
		}
	}
}
