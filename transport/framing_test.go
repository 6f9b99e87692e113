package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFramerSingleMessage(t *testing.T) {
	f := &framer{}
	msg := "REGISTER sip:pbx SIP/2.0\r\nContent-Length: 0\r\n\r\n"
	out := f.Feed([]byte(msg))
	require.Len(t, out, 1)
	require.Equal(t, msg, string(out[0]))
	require.Empty(t, f.buf)
}

func TestFramerWithBody(t *testing.T) {
	f := &framer{}
	body := "v=0\r\n"
	msg := "INVITE sip:bob SIP/2.0\r\nContent-Length: " + itoa(len(body)) + "\r\n\r\n" + body
	out := f.Feed([]byte(msg))
	require.Len(t, out, 1)
	require.Equal(t, msg, string(out[0]))
}

// TestFramerStressSplit reproduces §8 scenario 5: two concatenated
// messages totaling 1,823 bytes delivered in chunks {1,1,1700,121} must
// yield exactly two messages with no residual buffer.
func TestFramerStressSplit(t *testing.T) {
	msgA := buildMessage(600)
	msgB := buildMessage(1823 - len(msgA))
	combined := append(append([]byte{}, msgA...), msgB...)
	require.Len(t, combined, 1823)

	f := &framer{}
	var got [][]byte
	for _, n := range []int{1, 1, 1700, 121} {
		chunk := combined[:n]
		combined = combined[n:]
		got = append(got, f.Feed(chunk)...)
	}
	require.Empty(t, combined)
	require.Len(t, got, 2)
	require.Equal(t, msgA, got[0])
	require.Equal(t, msgB, got[1])
	require.Empty(t, f.buf)
}

func buildMessage(total int) []byte {
	const prefix = "OPTIONS sip:pbx SIP/2.0\r\nContent-Length: "
	for bodyLen := 0; bodyLen < total; bodyLen++ {
		head := prefix + itoa(bodyLen) + "\r\n\r\n"
		if len(head)+bodyLen == total {
			body := make([]byte, bodyLen)
			for i := range body {
				body[i] = 'x'
			}
			return append([]byte(head), body...)
		}
	}
	panic("no body length produces the requested total")
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
