package dialog

import "github.com/dialtone/gophone/internal/randutils"

// GenerateBranch returns a fresh Via branch parameter. RFC 3261 requires
// it to start with the magic cookie z9hG4bK.
func GenerateBranch() string {
	return "z9hG4bK" + randutils.RandString(16)
}

// GenerateTag returns a fresh From/To tag.
func GenerateTag() string {
	return randutils.RandString(10)
}

// GenerateCallID returns a fresh Call-ID local part; host is appended by
// the caller (the configured extension's domain).
func GenerateCallID() string {
	return randutils.RandString(24)
}
