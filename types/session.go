package types

// ActivationMode selects how a network session is established.
type ActivationMode uint8

const (
	OTAA ActivationMode = iota // over-the-air join handshake
	ABP                        // statically provisioned session
)

func (m ActivationMode) String() string {
	switch m {
	case OTAA:
		return "otaa"
	case ABP:
		return "abp"
	default:
		return "unknown"
	}
}

// ParseActivationMode accepts "otaa" or "abp".
func ParseActivationMode(s string) (ActivationMode, bool) {
	switch s {
	case "otaa", "OTAA":
		return OTAA, true
	case "abp", "ABP":
		return ABP, true
	}
	return OTAA, false
}

const KeyLen = 16

// Session holds the negotiated identifiers and session keys.
type Session struct {
	NetID   uint32
	DevAddr uint32
	NwkSKey [KeyLen]byte
	AppSKey [KeyLen]byte
}

// IsZero reports whether no field has been populated.
func (s Session) IsZero() bool { return s == Session{} }

// HasKeys reports whether both session keys are set. A session with an
// all-zero key cannot have come from a completed join.
func (s Session) HasKeys() bool {
	return s.NwkSKey != [KeyLen]byte{} && s.AppSKey != [KeyLen]byte{}
}

// SessionState is the Session Manager's view of the link.
// Keys are immutable while Joined is true.
type SessionState struct {
	Mode    ActivationMode
	Joined  bool
	Session Session
}
