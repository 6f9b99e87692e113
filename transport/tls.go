package transport

import (
	"crypto/tls"
	"net"

	"braces.dev/errtrace"

	"github.com/dialtone/gophone/log"
)

// tlsProtocol is TCP framing (§4.5) over a TLS connection that accepts
// self-signed peer certificates, with SNI set to the server name.
type tlsProtocol struct {
	conn net.Conn
	log  log.Logger
}

// DialTLS connects to remote over TLS, rejecting no certificate (the
// equivalent of rejectUnauthorized=false), and starts the framed read
// loop.
func DialTLS(remote Target, logger log.Logger, deliver Deliver, lost Lost) (Protocol, error) {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	serverName := remote.ServerName
	if serverName == "" {
		serverName = remote.Host
	}
	dialer := &net.Dialer{Timeout: connectTimeout}
	conn, err := tls.DialWithDialer(dialer, "tcp4", remote.Addr(), &tls.Config{
		InsecureSkipVerify: true,
		ServerName:         serverName,
	})
	if err != nil {
		return nil, errtrace.Wrap(&ProtocolError{Err: err, Op: "connect", Network: "TLS"})
	}

	t := &tlsProtocol{conn: conn, log: logger}
	go readFramed(conn, deliver, lost)
	return t, nil
}

func (t *tlsProtocol) Network() string { return "TLS" }
func (t *tlsProtocol) Reliable() bool  { return true }

func (t *tlsProtocol) LocalAddr() string { return t.conn.LocalAddr().String() }

func (t *tlsProtocol) Send(data []byte) error {
	if _, err := t.conn.Write(data); err != nil {
		return errtrace.Wrap(&ProtocolError{Err: err, Op: "write", Network: "TLS"})
	}
	return nil
}

func (t *tlsProtocol) Close() error {
	return t.conn.Close()
}

