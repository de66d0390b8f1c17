package enc

import (
	"fmt"
)

// PrivacyMode selects which consistency rules apply to a transaction.
// Values match the on-wire privacy flag.
type PrivacyMode int

const (
	StandardPrivate        PrivacyMode = 0
	PartyProtection        PrivacyMode = 1
	MandatoryRecipients    PrivacyMode = 2
	PrivateStateValidation PrivacyMode = 3
)

var privacyModeNames = map[PrivacyMode]string{
	StandardPrivate:        "STANDARD_PRIVATE",
	PartyProtection:        "PARTY_PROTECTION",
	MandatoryRecipients:    "MANDATORY_RECIPIENTS",
	PrivateStateValidation: "PRIVATE_STATE_VALIDATION",
}

// PrivacyModeFromFlag resolves a numeric privacy flag.
func PrivacyModeFromFlag(flag int) (PrivacyMode, error) {
	m := PrivacyMode(flag)
	if _, ok := privacyModeNames[m]; !ok {
		return 0, fmt.Errorf("unknown privacy flag %d", flag)
	}
	return m, nil
}

// ParsePrivacyMode resolves a privacy mode by name.
func ParsePrivacyMode(s string) (PrivacyMode, error) {
	for m, name := range privacyModeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown privacy mode %q", s)
}

func (m PrivacyMode) String() string {
	if name, ok := privacyModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("PrivacyMode(%d)", int(m))
}

// MarshalText implements encoding.TextMarshaler.
func (m PrivacyMode) MarshalText() ([]byte, error) {
	if _, ok := privacyModeNames[m]; !ok {
		return nil, fmt.Errorf("unknown privacy mode %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *PrivacyMode) UnmarshalText(text []byte) error {
	parsed, err := ParsePrivacyMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
