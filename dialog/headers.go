package dialog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dialtone/gophone/sipmsg"
)

// viaBranch extracts the branch parameter from msg's topmost Via header.
func viaBranch(msg *sipmsg.Message) (string, bool) {
	v, ok := msg.Headers().Get("Via")
	if !ok {
		return "", false
	}
	return viaParam(v, "branch")
}

func viaParam(via, name string) (string, bool) {
	for _, part := range strings.Split(via, ";") {
		part = strings.TrimSpace(part)
		k, v, ok := strings.Cut(part, "=")
		if ok && strings.EqualFold(strings.TrimSpace(k), name) {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// cseqParts splits a CSeq header value into its number and method.
func cseqParts(msg *sipmsg.Message) (int, string, bool) {
	v, ok := msg.Headers().Get("CSeq")
	if !ok {
		return 0, "", false
	}
	fields := strings.Fields(v)
	if len(fields) != 2 {
		return 0, "", false
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, "", false
	}
	return n, fields[1], true
}

// toTag extracts the tag parameter from msg's To header, if present.
func toTag(msg *sipmsg.Message) (string, bool) {
	to, ok := msg.Headers().Get("To")
	if !ok {
		return "", false
	}
	return viaParam(to, "tag")
}

// buildVia renders a Via header value for an outbound request.
func buildVia(network, localAddr, branch string) string {
	return fmt.Sprintf("SIP/2.0/%s %s;branch=%s;rport", strings.ToUpper(network), localAddr, branch)
}

// addTag appends ;tag=value to a From/To header value that does not
// already carry one.
func addTag(headerValue, tag string) string {
	if _, ok := viaParam(headerValue, "tag"); ok {
		return headerValue
	}
	return headerValue + ";tag=" + tag
}

// copyHeader copies every value of name from src to dst, in order.
func copyHeader(dst, src *sipmsg.Message, name string) {
	for _, v := range src.Headers().All(name) {
		dst.Headers().Add(name, v)
	}
}
