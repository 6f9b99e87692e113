package sipmsg_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dialtone/gophone/sipmsg"
)

func TestParseRequest(t *testing.T) {
	raw := "REGISTER sip:example.com SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bK1\r\n" +
		"From: <sip:alice@example.com>;tag=abc\r\n" +
		"To: <sip:alice@example.com>\r\n" +
		"Call-ID: xyz\r\n" +
		"CSeq: 1 REGISTER\r\n" +
		"Content-Length: 0\r\n\r\n"

	m, err := sipmsg.Parse([]byte(raw))
	require.NoError(t, err)
	require.True(t, m.IsRequest())
	require.Equal(t, "REGISTER", m.Method)
	require.Equal(t, "sip:example.com", m.RequestURI)

	v, ok := m.Headers().Get("via")
	require.True(t, ok)
	require.Equal(t, "SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bK1", v)
	require.Empty(t, m.Body)
}

func TestParseResponse(t *testing.T) {
	raw := "SIP/2.0 401 Unauthorized\r\n" +
		"Via: SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bK1\r\n" +
		"WWW-Authenticate: Digest realm=\"asterisk\", nonce=\"abc123\"\r\n" +
		"Content-Length: 0\r\n\r\n"

	m, err := sipmsg.Parse([]byte(raw))
	require.NoError(t, err)
	require.False(t, m.IsRequest())
	require.Equal(t, 401, m.StatusCode)
	require.Equal(t, "Unauthorized", m.Reason)
}

func TestParseWithBody(t *testing.T) {
	body := "v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\n"
	raw := "INVITE sip:bob@example.com SIP/2.0\r\n" +
		"Content-Length: " + itoa(len(body)) + "\r\n\r\n" + body

	m, err := sipmsg.Parse([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, []byte(body), m.Body)
}

func TestDuplicateHeadersPreserved(t *testing.T) {
	raw := "REGISTER sip:example.com SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP a\r\n" +
		"Via: SIP/2.0/UDP b\r\n" +
		"Content-Length: 0\r\n\r\n"

	m, err := sipmsg.Parse([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, []string{"SIP/2.0/UDP a", "SIP/2.0/UDP b"}, m.Headers().All("via"))
}

func TestParseThenSerializeRoundTrip(t *testing.T) {
	m := sipmsg.NewRequest("REGISTER", "sip:example.com")
	m.Headers().Add("Via", "SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bK1")
	m.Headers().Add("Call-ID", "xyz")
	m.Headers().Add("CSeq", "1 REGISTER")
	m.Body = nil

	out := m.Serialize()
	reparsed, err := sipmsg.Parse(out)
	require.NoError(t, err)

	require.Equal(t, m.Method, reparsed.Method)
	require.Equal(t, m.RequestURI, reparsed.RequestURI)
	for _, kv := range m.Headers().Ordered() {
		require.Equal(t, kv.Values, reparsed.Headers().All(kv.Name))
	}
	require.Equal(t, string(m.Body), string(reparsed.Body), "body bytes")
}

func TestSerializeContentLengthAlwaysRecomputed(t *testing.T) {
	m := sipmsg.NewResponse(200, "OK")
	m.Headers().Set("Content-Length", "999")
	m.Body = []byte("abc")

	out := m.Serialize()
	reparsed, err := sipmsg.Parse(out)
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), reparsed.Body)

	cl, ok := reparsed.Headers().Get("Content-Length")
	require.True(t, ok)
	require.Equal(t, "3", cl)
}

func TestParseRejectsMissingSeparator(t *testing.T) {
	_, err := sipmsg.Parse([]byte("REGISTER sip:example.com SIP/2.0\r\n"))
	require.Error(t, err)
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
