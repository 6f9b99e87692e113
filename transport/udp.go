package transport

import (
	"net"

	"braces.dev/errtrace"

	"github.com/dialtone/gophone/log"
)

// udpProtocol sends/receives one whole SIP message per datagram, per
// §4.5. The socket is bound on an ephemeral port on 0.0.0.0 and the
// remote target is fixed at dial time (the registrar).
type udpProtocol struct {
	conn   *net.UDPConn
	remote *net.UDPAddr
	log    log.Logger
}

// DialUDP binds an ephemeral local UDP socket and fixes remote as the
// send target. deliver is invoked once per received datagram; lost is
// invoked once if the socket read loop exits.
func DialUDP(remote Target, logger log.Logger, deliver Deliver, lost Lost) (Protocol, error) {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	raddr, err := net.ResolveUDPAddr("udp4", remote.Addr())
	if err != nil {
		return nil, errtrace.Wrap(&ProtocolError{Err: err, Op: "resolve remote address", Network: "UDP"})
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, errtrace.Wrap(&ProtocolError{Err: err, Op: "bind local socket", Network: "UDP"})
	}

	u := &udpProtocol{conn: conn, remote: raddr, log: logger}
	go u.recvLoop(deliver, lost)
	return u, nil
}

func (u *udpProtocol) Network() string { return "UDP" }
func (u *udpProtocol) Reliable() bool  { return false }

func (u *udpProtocol) LocalAddr() string { return u.conn.LocalAddr().String() }

func (u *udpProtocol) Send(data []byte) error {
	if _, err := u.conn.WriteToUDP(data, u.remote); err != nil {
		return errtrace.Wrap(&ProtocolError{Err: err, Op: "send datagram", Network: "UDP"})
	}
	return nil
}

func (u *udpProtocol) Close() error {
	return u.conn.Close()
}

func (u *udpProtocol) recvLoop(deliver Deliver, lost Lost) {
	buf := make([]byte, 65507)
	for {
		n, src, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if lost != nil {
				lost()
			}
			return
		}
		msg := make([]byte, n)
		copy(msg, buf[:n])
		deliver(msg, src.String())
	}
}
