package dialog

// Config carries the fields a UA needs to register and place calls,
// independent of how the caller obtained or validated them (the root
// package owns defaulting/validation per the configuration enumeration).
type Config struct {
	Server      string
	Port        int
	Network     string // "UDP", "TCP", or "TLS"
	Extension   string
	Password    string
	DisplayName string
}

// AOR renders the configured extension as a SIP address-of-record.
func (c Config) AOR() string {
	return "sip:" + c.Extension + "@" + c.Server
}
