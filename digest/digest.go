// Package digest implements HTTP Digest authentication for SIP
// (RFC 2617/8760, MD5), per §4.6: challenge parsing and Authorization
// response computation.
package digest

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"

	"braces.dev/errtrace"
)

// Challenge is a parsed WWW-Authenticate/Proxy-Authenticate value. Only
// MD5 without qop is used: qop and opaque are recorded if the server
// offered them, opaque is echoed back by Authorization, and qop does not
// enter the response computation.
type Challenge struct {
	Scheme    string
	Realm     string
	Nonce     string
	Algorithm string
	Qop       string
	Opaque    string
}

var challengeParamRe = regexp.MustCompile(`([\w]+)=(?:"([^"]*)"|([^\s,]+))`)

// ParseChallenge parses the value of a WWW-Authenticate or
// Proxy-Authenticate header. Unknown parameters are ignored.
func ParseChallenge(value string) (*Challenge, error) {
	c := &Challenge{Scheme: "Digest", Algorithm: "MD5"}

	matches := challengeParamRe.FindAllStringSubmatch(value, -1)
	if len(matches) == 0 {
		return nil, errtrace.Wrap(fmt.Errorf("digest: no parameters found in challenge %q", value))
	}
	for _, m := range matches {
		val := m[2]
		if val == "" {
			val = m[3]
		}
		switch m[1] {
		case "realm":
			c.Realm = val
		case "nonce":
			c.Nonce = val
		case "algorithm":
			c.Algorithm = val
		case "qop":
			c.Qop = val
		case "opaque":
			c.Opaque = val
		}
	}
	if c.Realm == "" || c.Nonce == "" {
		return nil, errtrace.Wrap(fmt.Errorf("digest: challenge missing realm or nonce: %q", value))
	}
	return c, nil
}

// Credentials are the inputs needed to build an Authorization response.
type Credentials struct {
	Username string
	Password string
	Method   string
	URI      string
}

// Response computes the Digest response for c using cred and returns it
// as 32 lowercase hex digits; Authorization renders the full header
// value around it. Only the qop-less MD5 path is used even when the
// challenge offers qop=auth,
// per §4.6 ("qop=auth ... is OPTIONAL and may be added if present").
func Response(c *Challenge, cred Credentials) string {
	ha1 := md5Hex(cred.Username + ":" + c.Realm + ":" + cred.Password)
	ha2 := md5Hex(cred.Method + ":" + cred.URI)
	response := md5Hex(ha1 + ":" + c.Nonce + ":" + ha2)
	return response
}

// Authorization renders a full Authorization header value for cred
// against challenge c.
func Authorization(c *Challenge, cred Credentials) string {
	response := Response(c, cred)
	out := fmt.Sprintf(
		`Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s", algorithm=MD5`,
		cred.Username, c.Realm, c.Nonce, cred.URI, response,
	)
	if c.Opaque != "" {
		out += fmt.Sprintf(`, opaque="%s"`, c.Opaque)
	}
	return out
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
