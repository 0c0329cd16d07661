// Package pipeline implements the audio pipeline orchestrator: the state
// machine that creates, reconfigures and tears down DSP operator chains in
// response to feature events and audio use cases.
//
// The orchestrator is the only component that touches chain resources.
// Every request reaches it as a message on the device loop, and requests
// that must not overlap an in-flight mutation are conditional on a lockgate.
package pipeline

import (
	"fmt"
)

// State is the pipeline state. Exactly one holds at a time, and it decides
// which chains exist.
type State int

const (
	Idle State = iota
	A2dpStartingA
	A2dpStartingB
	A2dpStartingC
	A2dpStreaming
	A2dpStreamingWithForwarding
	ScoActive
	ScoActiveWithForwarding
	ScoSlaveActive
	TonePlaying
	AncTuning
	StandaloneLeakthrough
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case A2dpStartingA:
		return "a2dp_starting_a"
	case A2dpStartingB:
		return "a2dp_starting_b"
	case A2dpStartingC:
		return "a2dp_starting_c"
	case A2dpStreaming:
		return "a2dp_streaming"
	case A2dpStreamingWithForwarding:
		return "a2dp_streaming_with_forwarding"
	case ScoActive:
		return "sco_active"
	case ScoActiveWithForwarding:
		return "sco_active_with_forwarding"
	case ScoSlaveActive:
		return "sco_slave_active"
	case TonePlaying:
		return "tone_playing"
	case AncTuning:
		return "anc_tuning"
	case StandaloneLeakthrough:
		return "standalone_leakthrough"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for v := Idle; v <= StandaloneLeakthrough; v++ {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("pipeline: unknown state %q", b)
}

// IsA2dpStarting reports whether s is one of the staged A2DP start states.
func (s State) IsA2dpStarting() bool {
	return s == A2dpStartingA || s == A2dpStartingB || s == A2dpStartingC
}

// IsA2dpStreaming reports whether an A2DP chain is running.
func (s State) IsA2dpStreaming() bool {
	return s == A2dpStreaming || s == A2dpStreamingWithForwarding
}

// IsSco reports whether a SCO chain is running.
func (s State) IsSco() bool {
	return s == ScoActive || s == ScoActiveWithForwarding || s == ScoSlaveActive
}

// AncState is the state of the ANC hardware block.
type AncState int

const (
	AncUninitialised AncState = iota
	AncOff
	AncOn
)

func (a AncState) String() string {
	switch a {
	case AncUninitialised:
		return "uninitialised"
	case AncOff:
		return "off"
	case AncOn:
		return "on"
	default:
		return fmt.Sprintf("anc(%d)", int(a))
	}
}

func (a AncState) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *AncState) UnmarshalText(b []byte) error {
	for v := AncUninitialised; v <= AncOn; v++ {
		if v.String() == string(b) {
			*a = v
			return nil
		}
	}
	return fmt.Errorf("pipeline: unknown anc state %q", b)
}

// ScoMode is the negotiated voice codec bandwidth class.
type ScoMode int

const (
	NoSco ScoMode = iota
	ScoNB
	ScoWB
	ScoSWB
	ScoUWB
)

func (m ScoMode) String() string {
	switch m {
	case NoSco:
		return "none"
	case ScoNB:
		return "nb"
	case ScoWB:
		return "wb"
	case ScoSWB:
		return "swb"
	case ScoUWB:
		return "uwb"
	default:
		return fmt.Sprintf("sco(%d)", int(m))
	}
}

// ParseScoMode parses a bandwidth class name.
func ParseScoMode(s string) (ScoMode, error) {
	for m := NoSco; m <= ScoUWB; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return NoSco, fmt.Errorf("pipeline: unknown sco mode %q", s)
}

// SampleRate returns the voice sample rate of the class.
func (m ScoMode) SampleRate() int {
	switch m {
	case ScoNB:
		return 8000
	case ScoWB:
		return 16000
	case ScoSWB:
		return 32000
	case ScoUWB:
		return 48000
	default:
		return 0
	}
}

// AncPath is the ANC filter topology fitted to the earbud.
type AncPath int

const (
	AncPathNone AncPath = iota
	AncPathHybrid
	AncPathFeedForward
	AncPathFeedBack
)

func (p AncPath) String() string {
	switch p {
	case AncPathHybrid:
		return "hybrid"
	case AncPathFeedForward:
		return "feedforward"
	case AncPathFeedBack:
		return "feedback"
	default:
		return "none"
	}
}

// ParseAncPath parses a path name. The empty string means hybrid.
func ParseAncPath(s string) (AncPath, error) {
	switch s {
	case "", "hybrid":
		return AncPathHybrid, nil
	case "feedforward", "ff":
		return AncPathFeedForward, nil
	case "feedback", "fb":
		return AncPathFeedBack, nil
	case "none":
		return AncPathNone, nil
	default:
		return AncPathNone, fmt.Errorf("pipeline: unknown anc path %q", s)
	}
}
