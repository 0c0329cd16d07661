// Package chain abstracts the DSP operator-graph engine and the audio
// platform controls that the pipeline orchestrator drives.
//
// Resource covers operator chains and stream endpoints. Platform covers the
// surrounding controls: DSP framework power, kick period, output rate, the
// external amplifier, downloadable bundles and the ANC hardware block.
// Sim implements both in memory.
package chain

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrUnknownChain    = errors.New("chain: unknown chain")
	ErrUnknownOperator = errors.New("chain: unknown operator")
	ErrEndpointBusy    = errors.New("chain: endpoint already connected")
	ErrNotConnected    = errors.New("chain: endpoint not connected")
)

// Handle identifies a created chain.
type Handle int

// Role names an operator within a chain.
type Role string

// Operator roles.
const (
	RoleAEC       Role = "aec"
	RoleDecoder   Role = "decoder"
	RoleVolume    Role = "volume"
	RoleSCOCodec  Role = "sco_codec"
	RoleCVC       Role = "cvc"
	RoleANCTuning Role = "anc_tuning"
	RoleUSBRx     Role = "usb_rx"
	RoleUSBTx     Role = "usb_tx"
	RoleTone      Role = "tone"
)

// Config describes a chain to create.
type Config struct {
	Name      string
	Operators []Role
}

// Operator references one operator of a chain.
type Operator struct {
	Chain Handle
	Role  Role
}

// Param is an operator parameter key.
type Param string

// Operator parameters.
const (
	// ParamUCID selects the tuning profile of an operator.
	ParamUCID Param = "ucid"
	// ParamSidetoneGain is the AEC sidetone gain in centibels.
	ParamSidetoneGain Param = "sidetone_gain"
	// ParamSidetoneEnable enables (1) or disables (0) the AEC sidetone path.
	ParamSidetoneEnable Param = "sidetone_enable"
	// ParamSampleRate sets an operator's sample rate in Hz.
	ParamSampleRate Param = "sample_rate"
)

// Endpoint names a hardware stream source or sink.
type Endpoint string

// Stream endpoints.
const (
	MicLeft  Endpoint = "mic"
	MicRight Endpoint = "mic_ref"
	DAC      Endpoint = "dac"
	USBIn    Endpoint = "usb_in"
	USBOut   Endpoint = "usb_out"
	SCOIn    Endpoint = "sco_in"
	SCOOut   Endpoint = "sco_out"
	A2DPIn   Endpoint = "a2dp_in"
)

// Resource is the DSP operator-graph engine.
type Resource interface {
	Create(cfg Config) (Handle, error)
	Connect(h Handle) error
	Start(h Handle) error
	Stop(h Handle) error
	Destroy(h Handle) error
	OperatorByRole(h Handle, role Role) (Operator, error)
	SetParameter(op Operator, key Param, value int) error

	// ConnectSource routes a hardware source into an operator input.
	ConnectSource(ep Endpoint, op Operator, terminal int) error
	// ConnectSink routes an operator output to a hardware sink.
	ConnectSink(op Operator, terminal int, ep Endpoint) error
	DisconnectSource(ep Endpoint) error
	DisconnectSink(ep Endpoint) error
}

// GainPath is an ANC filter path whose fine gain can be set.
type GainPath int

const (
	PathFFA GainPath = iota
	PathFFB
	PathFB
)

func (p GainPath) String() string {
	switch p {
	case PathFFA:
		return "ffa"
	case PathFFB:
		return "ffb"
	case PathFB:
		return "fb"
	default:
		return fmt.Sprintf("path(%d)", int(p))
	}
}

// Bundle is a loaded DSP download bundle.
type Bundle int

// Platform is the set of audio controls outside the operator graph.
type Platform interface {
	FrameworkEnable(on bool) error
	SetKickPeriod(us int) error
	SetOutputRate(hz int) error
	Amplifier(on bool) error
	LoadBundle(name string) (Bundle, error)
	UnloadBundle(b Bundle) error

	AncEnable(on bool) error
	AncSetMode(mode uint8) error
	AncSetPathGain(path GainPath, gain uint8) error
}
