// Package sdp builds and parses the minimal single-audio-m-line SDP the
// core needs for offer/answer, per §4.3. It is a thin domain layer over
// github.com/pion/sdp/v3, which already marshals SessionDescription
// fields in the exact v,o,s,c,t,m,a... order this spec requires whenever
// the optional i=/u=/e=/p=/b=/z=/k= fields are left unset.
package sdp

import (
	"fmt"
	"strconv"
	"strings"

	"braces.dev/errtrace"
	pionsdp "github.com/pion/sdp/v3"
)

// RTPMap names the codecs this core ever advertises.
var RTPMap = map[int]string{
	0:   "PCMU/8000",
	8:   "PCMA/8000",
	101: "telephone-event/8000",
}

// Offer describes the single audio m-line this core ever produces, in
// both directions (offer and answer share the same shape).
type Offer struct {
	LocalIP    string
	RTPPort    int
	PayloadTypes []int // preference order; offers advertise {0,8,101}
	User       string
	SessionID  int64 // unix seconds at call start, per §4.3
}

// Build renders o as the exact line sequence §4.3 requires.
func (o Offer) Build() []byte {
	sd := &pionsdp.SessionDescription{
		Version: 0,
		Origin: pionsdp.Origin{
			Username:       o.User,
			SessionID:      uint64(o.SessionID),
			SessionVersion: uint64(o.SessionID),
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: o.LocalIP,
		},
		SessionName: "gophone",
		ConnectionInformation: &pionsdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &pionsdp.Address{Address: o.LocalIP},
		},
		TimeDescriptions: []pionsdp.TimeDescription{{}},
	}

	formats := make([]string, len(o.PayloadTypes))
	attrs := make([]pionsdp.Attribute, 0, len(o.PayloadTypes)+2)
	for i, pt := range o.PayloadTypes {
		formats[i] = strconv.Itoa(pt)
		name, ok := RTPMap[pt]
		if !ok {
			continue
		}
		attrs = append(attrs, pionsdp.Attribute{Key: "rtpmap", Value: fmt.Sprintf("%d %s", pt, name)})
	}
	if containsPT(o.PayloadTypes, 101) {
		attrs = append(attrs, pionsdp.Attribute{Key: "fmtp", Value: "101 0-16"})
	}
	attrs = append(attrs,
		pionsdp.Attribute{Key: "ptime", Value: "20"},
		pionsdp.Attribute{Key: "sendrecv"},
	)

	sd.MediaDescriptions = []*pionsdp.MediaDescription{{
		MediaName: pionsdp.MediaName{
			Media:   "audio",
			Port:    pionsdp.RangedPort{Value: o.RTPPort},
			Protos:  []string{"RTP", "AVP"},
			Formats: formats,
		},
		Attributes: attrs,
	}}

	raw, err := sd.Marshal()
	if err != nil {
		// sd is fully populated with valid values above; Marshal only
		// fails on structurally incomplete descriptions.
		panic(err)
	}
	return raw
}

func containsPT(pts []int, pt int) bool {
	for _, p := range pts {
		if p == pt {
			return true
		}
	}
	return false
}

// Parsed is the result of parsing a peer's SDP offer or answer: the
// negotiated (or offered) audio endpoint and its payload-type preference
// list, in the order they appeared on the wire.
type Parsed struct {
	IP           string
	Port         int
	PayloadTypes []int
}

// Parse extracts the single audio m-line this core cares about. Only the
// session-level c= (or a per-media c= override) and the first m=audio
// block are consulted; anything else in the SDP is ignored.
func Parse(data []byte) (*Parsed, error) {
	sd := &pionsdp.SessionDescription{}
	if err := sd.Unmarshal(data); err != nil {
		return nil, errtrace.Wrap(err)
	}

	sessionIP := ""
	if sd.ConnectionInformation != nil && sd.ConnectionInformation.Address != nil {
		sessionIP = sd.ConnectionInformation.Address.Address
	}

	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media != "audio" {
			continue
		}
		ip := sessionIP
		if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
			ip = md.ConnectionInformation.Address.Address
		}
		if ip == "" {
			return nil, errtrace.Wrap(fmt.Errorf("sdp: audio m-line has no connection address"))
		}

		pts := make([]int, 0, len(md.MediaName.Formats))
		for _, f := range md.MediaName.Formats {
			pt, err := strconv.Atoi(f)
			if err != nil {
				continue
			}
			pts = append(pts, pt)
		}
		return &Parsed{IP: ip, Port: md.MediaName.Port.Value, PayloadTypes: pts}, nil
	}

	return nil, errtrace.Wrap(fmt.Errorf("sdp: no audio m-line found"))
}

// AnswerPayloadType picks the first payload type common to offered and
// the codecs this core supports (0 and 8), defaulting to 0 per §4.7 step
// 6 ("defaulting to 0") when nothing matches.
func AnswerPayloadType(offered []int) int {
	for _, pt := range offered {
		if pt == 0 || pt == 8 {
			return pt
		}
	}
	return 0
}

// String renders raw SDP bytes for logging, trimming the trailing CRLF
// pion/sdp appends after the last attribute line.
func String(raw []byte) string {
	return strings.TrimRight(string(raw), "\r\n")
}
