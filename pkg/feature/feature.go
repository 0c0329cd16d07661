// Package feature defines the replicated audio-enhancement features of an
// earbud pair, their state, and the two-byte payload exchanged between peers.
package feature

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors.
var (
	// ErrMalformedPayload is returned by Decode for payloads that do not
	// match the fixed wire layout of the feature.
	ErrMalformedPayload = errors.New("feature: malformed payload")

	// ErrFeatureDisabled is reported when a mode or gain change is requested
	// while the feature is disabled.
	ErrFeatureDisabled = errors.New("feature: feature disabled")

	// ErrInvalidMode is returned for a mode outside the feature's range.
	ErrInvalidMode = errors.New("feature: invalid mode")

	// ErrUnknownKind is returned when parsing an unknown feature name.
	ErrUnknownKind = errors.New("feature: unknown kind")
)

// Kind identifies a replicated feature.
type Kind int

const (
	ANC Kind = iota
	Leakthrough
)

// Kinds lists every feature kind.
var Kinds = []Kind{ANC, Leakthrough}

// String returns the feature name.
func (k Kind) String() string {
	switch k {
	case ANC:
		return "anc"
	case Leakthrough:
		return "leakthrough"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// ParseKind parses a feature name. Matching is case-insensitive and accepts
// "lt" as shorthand for leakthrough.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "anc":
		return ANC, nil
	case "leakthrough", "lt":
		return Leakthrough, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Modes returns the number of modes the feature supports.
func (k Kind) Modes() int {
	switch k {
	case ANC:
		return 10
	case Leakthrough:
		return 3
	default:
		return 0
	}
}

// HasGain reports whether the feature carries a gain value.
func (k Kind) HasGain() bool { return k == ANC }

// Mode is a zero-based feature mode index.
type Mode uint8

// String returns the one-based mode name used in logs, e.g. "mode3" for 2.
func (m Mode) String() string {
	return fmt.Sprintf("mode%d", int(m)+1)
}

// Valid reports whether m is in range for kind k.
func (m Mode) Valid(k Kind) bool {
	return int(m) < k.Modes()
}

// State is the state of one feature on one earbud. Mode and Gain may be
// stored while the feature is disabled; they are applied on the next enable.
type State struct {
	Enabled bool  `json:"enabled" yaml:"enabled" msgpack:"enabled"`
	Mode    Mode  `json:"mode" yaml:"mode" msgpack:"mode"`
	Gain    uint8 `json:"gain" yaml:"gain" msgpack:"gain"`
}

func (s State) String() string {
	on := "off"
	if s.Enabled {
		on = "on"
	}
	return fmt.Sprintf("{%s %s gain=%d}", on, s.Mode, s.Gain)
}

// Role is the part an earbud plays in the pair.
type Role int

const (
	Primary Role = iota
	Secondary
)

func (r Role) String() string {
	switch r {
	case Primary:
		return "primary"
	case Secondary:
		return "secondary"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "primary", "":
		*r = Primary
	case "secondary":
		*r = Secondary
	default:
		return fmt.Errorf("feature: unknown role %q", b)
	}
	return nil
}

// Peer returns the opposite role.
func (r Role) Peer() Role {
	if r == Primary {
		return Secondary
	}
	return Primary
}
