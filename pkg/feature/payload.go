package feature

import "fmt"

// PayloadSize is the fixed wire size of every feature payload.
const PayloadSize = 2

// Byte 0 layout.
//
//	bit 0     enabled
//	bits 1-4  mode
//	bit 5     link-loss resync
//	bits 6-7  op (ordinary commands only)
//
// Byte 1 carries the ANC gain and is zero for leakthrough.
const (
	enabledBit  = 0x01
	modeShift   = 1
	modeMask    = 0x0F << modeShift
	linkLossBit = 0x20
	opShift     = 6
	opMask      = 0x03 << opShift
)

// Op is the command carried by an ordinary (non resync) payload.
type Op uint8

const (
	// OpState enables or disables the feature according to State.Enabled.
	OpState Op = iota
	// OpMode changes the mode.
	OpMode
	// OpGain changes the gain (ANC only).
	OpGain
	opReserved
)

func (o Op) String() string {
	switch o {
	case OpState:
		return "state"
	case OpMode:
		return "mode"
	case OpGain:
		return "gain"
	default:
		return "reserved"
	}
}

// Payload is the decoded form of a peer message. State always carries the
// full post-command tuple so a payload can be replayed without consulting
// any other state. When LinkLoss is set the payload is a resync snapshot and
// Op is ignored.
type Payload struct {
	Op       Op
	State    State
	LinkLoss bool
}

func (p Payload) String() string {
	if p.LinkLoss {
		return fmt.Sprintf("resync%s", p.State)
	}
	return fmt.Sprintf("%s%s", p.Op, p.State)
}

// Encode packs p for feature k.
func Encode(k Kind, p Payload) ([]byte, error) {
	if !p.State.Mode.Valid(k) {
		return nil, fmt.Errorf("%w: %s %d", ErrInvalidMode, k, p.State.Mode)
	}
	op := p.Op
	if p.LinkLoss {
		op = OpState
	}
	if op >= opReserved || (op == OpGain && !k.HasGain()) {
		return nil, fmt.Errorf("feature: encode %s: unsupported op %s", k, op)
	}

	var b [PayloadSize]byte
	if p.State.Enabled {
		b[0] |= enabledBit
	}
	b[0] |= byte(p.State.Mode) << modeShift & modeMask
	if p.LinkLoss {
		b[0] |= linkLossBit
	}
	b[0] |= byte(op) << opShift
	if k.HasGain() {
		b[1] = p.State.Gain
	}
	return b[:], nil
}

// Decode unpacks a payload received for feature k.
func Decode(k Kind, b []byte) (Payload, error) {
	if len(b) != PayloadSize {
		return Payload{}, fmt.Errorf("%w: %s: length %d, want %d", ErrMalformedPayload, k, len(b), PayloadSize)
	}
	p := Payload{
		State: State{
			Enabled: b[0]&enabledBit != 0,
			Mode:    Mode(b[0] & modeMask >> modeShift),
		},
		LinkLoss: b[0]&linkLossBit != 0,
		Op:       Op(b[0] & opMask >> opShift),
	}
	if !p.State.Mode.Valid(k) {
		return Payload{}, fmt.Errorf("%w: %s: mode %d out of range", ErrMalformedPayload, k, p.State.Mode)
	}
	if p.LinkLoss {
		p.Op = OpState
	}
	if p.Op >= opReserved || (p.Op == OpGain && !k.HasGain()) {
		return Payload{}, fmt.Errorf("%w: %s: op %d", ErrMalformedPayload, k, p.Op)
	}
	if k.HasGain() {
		p.State.Gain = b[1]
	} else if b[1] != 0 {
		return Payload{}, fmt.Errorf("%w: %s: unused byte set", ErrMalformedPayload, k)
	}
	return p, nil
}
