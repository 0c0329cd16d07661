package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/haivivi/twinbud/pkg/chain"
	"github.com/haivivi/twinbud/pkg/feature"
	"github.com/haivivi/twinbud/pkg/lockgate"
	"github.com/haivivi/twinbud/pkg/sched"
)

// Defaults.
const (
	DefaultSidetoneDelay = 100 * time.Millisecond

	// LeakthroughRate is the output rate of the standalone leakthrough chain.
	LeakthroughRate = 16000
	// TuningRate is the only USB rate the ANC tuning chain supports.
	TuningRate = 48000
	A2dpRate   = 48000
	ToneRate   = 48000

	KickPeriodDefault     = 2000
	KickPeriodLeakthrough = 7500

	// Sidetone gains in centibels.
	SidetoneGainMin     = -9000
	SidetoneGainDefault = 0

	TuningBundle   = "download_anc_tuning.edkcs"
	USBAudioBundle = "download_usb_audio.edkcs"
)

// HardwareError is a chain or platform failure that aborted a transition.
type HardwareError struct {
	Op  string
	Err error

	// Event is the feature event being realized, nil for use-case
	// transitions.
	Event *Event
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("pipeline: %s: %v", e.Op, e.Err)
}

func (e *HardwareError) Unwrap() error { return e.Err }

// EventType is the kind of a feature event.
type EventType int

const (
	FeatureOn EventType = iota
	FeatureOff
	SetMode
	SetGain
)

func (t EventType) String() string {
	switch t {
	case FeatureOn:
		return "on"
	case FeatureOff:
		return "off"
	case SetMode:
		return "set_mode"
	case SetGain:
		return "set_gain"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event asks the orchestrator to realize a feature change. FeatureOn carries
// the mode to apply with the enable.
type Event struct {
	Feature feature.Kind
	Type    EventType
	Mode    feature.Mode
	Gain    uint8
}

func (e Event) String() string {
	switch e.Type {
	case SetMode:
		return fmt.Sprintf("%s %s %s", e.Feature, e.Type, e.Mode)
	case SetGain:
		return fmt.Sprintf("%s %s %d", e.Feature, e.Type, e.Gain)
	default:
		return fmt.Sprintf("%s %s", e.Feature, e.Type)
	}
}

// Message ids. Feature events use one id per feature and event class so a
// newer request supersedes a pending one of the same class.
const (
	msgAncState sched.MessageID = iota + 1
	msgAncMode
	msgAncGain
	msgLeakthroughState
	msgLeakthroughMode
	msgSidetoneEnable
	msgA2dpStart
	msgA2dpStage
	msgA2dpStop
	msgScoStart
	msgScoStop
	msgToneStart
	msgToneEnd
	msgTuningStart
	msgTuningStop
)

func eventMessage(ev Event) sched.MessageID {
	switch ev.Feature {
	case feature.ANC:
		switch ev.Type {
		case SetMode:
			return msgAncMode
		case SetGain:
			return msgAncGain
		default:
			return msgAncState
		}
	default:
		if ev.Type == SetMode {
			return msgLeakthroughMode
		}
		return msgLeakthroughState
	}
}

// Options configures an Orchestrator.
type Options struct {
	Loop     *sched.Loop
	Resource chain.Resource
	Platform chain.Platform

	// Gates defaults to a fresh lockgate.Set.
	Gates *lockgate.Set

	// Role decides the forwarding variants of the A2DP and SCO states.
	Role feature.Role

	// AncPath is the fitted ANC topology. AncPathNone leaves ANC
	// uninitialised and rejects ANC events.
	AncPath AncPath

	// SidetoneDelay is the AEC settling time before the sidetone gain is
	// raised. Default is DefaultSidetoneDelay.
	SidetoneDelay time.Duration

	// TuningUSBBundle also loads USBAudioBundle when tuning starts.
	TuningUSBBundle bool

	// OnFatal is called with every *HardwareError, after the failed
	// transition has been unwound. Default logs at Error.
	OnFatal func(error)

	// OnTransition, if set, is called after every state change.
	OnTransition func(from, to State)

	Logger *slog.Logger
}

// Orchestrator owns the pipeline state and every chain resource.
// All methods other than the Request and Submit family must be called on
// the loop.
type Orchestrator struct {
	loop      *sched.Loop
	task      *sched.Task
	res       chain.Resource
	plat      chain.Platform
	gates     *lockgate.Set
	role      feature.Role
	ancPath   AncPath
	sidetone  time.Duration
	usbBundle bool
	onFatal   func(error)
	onChange  func(from, to State)
	log       *slog.Logger

	state State

	// Feature event being handled and the first failure it hit.
	event    *Event
	eventErr error

	anc struct {
		state AncState
		mode  feature.Mode
		gain  uint8
		// Events received during tuning, replayed when it ends.
		deferred []Event
	}

	lt struct {
		enabled  bool
		mode     feature.Mode
		chain    chain.Handle
		aec      chain.Operator
		attached bool // mic routed into an A2DP or SCO chain's AEC
		settling bool // standalone chain holds the leakthrough gate
	}

	a2dp struct {
		forwarding bool
		chain      chain.Handle
		aec        chain.Operator
	}

	sco struct {
		mode  ScoMode
		chain chain.Handle
		aec   chain.Operator
	}

	tone struct {
		chain  chain.Handle
		active bool
		owned  bool // tone entered TonePlaying
	}

	tuning struct {
		chain   chain.Handle
		bundles []chain.Bundle
	}
}

// New returns an orchestrator in Idle.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		loop:      opts.Loop,
		res:       opts.Resource,
		plat:      opts.Platform,
		gates:     opts.Gates,
		role:      opts.Role,
		ancPath:   opts.AncPath,
		sidetone:  opts.SidetoneDelay,
		usbBundle: opts.TuningUSBBundle,
		onFatal:   opts.OnFatal,
		onChange:  opts.OnTransition,
		log:       opts.Logger,
	}
	if o.gates == nil {
		o.gates = lockgate.NewSet()
	}
	if o.sidetone <= 0 {
		o.sidetone = DefaultSidetoneDelay
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	if o.onFatal == nil {
		o.onFatal = func(err error) {
			o.log.Error("pipeline: hardware failure", "err", err)
		}
	}
	o.task = sched.NewTask("pipeline", sched.HandlerFunc(o.handle))
	return o
}

// Init brings the ANC block to Off when an ANC path is fitted.
func (o *Orchestrator) Init() {
	if o.ancPath != AncPathNone && o.anc.state == AncUninitialised {
		o.anc.state = AncOff
	}
}

// Gates returns the orchestrator's gates.
func (o *Orchestrator) Gates() *lockgate.Set { return o.gates }

// State returns the pipeline state.
func (o *Orchestrator) State() State { return o.state }

// AncState returns the ANC hardware state.
func (o *Orchestrator) AncState() AncState { return o.anc.state }

// LeakthroughActive reports whether a leakthrough path is running.
func (o *Orchestrator) LeakthroughActive() bool {
	return o.state == StandaloneLeakthrough || o.lt.attached
}

// Snapshot is a diagnostic view of the orchestrator.
type Snapshot struct {
	State             State          `json:"state" yaml:"state"`
	Anc               AncState       `json:"anc" yaml:"anc"`
	AncMode           feature.Mode   `json:"anc_mode" yaml:"anc_mode"`
	AncGain           uint8          `json:"anc_gain" yaml:"anc_gain"`
	LeakthroughActive bool           `json:"leakthrough_active" yaml:"leakthrough_active"`
	LeakthroughMode   feature.Mode   `json:"leakthrough_mode" yaml:"leakthrough_mode"`
	ScoMode           string         `json:"sco_mode,omitempty" yaml:"sco_mode,omitempty"`
	Gates             map[string]int `json:"gates" yaml:"gates"`
}

// Snapshot returns a diagnostic view.
func (o *Orchestrator) Snapshot() Snapshot {
	s := Snapshot{
		State:             o.state,
		Anc:               o.anc.state,
		AncMode:           o.anc.mode,
		AncGain:           o.anc.gain,
		LeakthroughActive: o.LeakthroughActive(),
		LeakthroughMode:   o.lt.mode,
		Gates:             o.gates.Counts(),
	}
	if o.state.IsSco() {
		s.ScoMode = o.sco.mode.String()
	}
	return s
}

func (o *Orchestrator) gateFor(k feature.Kind) *lockgate.Gate {
	if k == feature.ANC {
		return o.gates.ANC
	}
	return o.gates.Leakthrough
}

// Submit queues a feature event after delay, gated on the feature's gate.
// A pending event of the same feature and class is superseded.
func (o *Orchestrator) Submit(ev Event, delay time.Duration) {
	id := eventMessage(ev)
	if n := o.loop.CancelAll(o.task, id); n > 0 {
		o.log.Debug("pipeline: superseded pending event", "event", ev, "cancelled", n)
	}
	o.loop.SendLaterConditionally(o.task, id, ev, delay, o.gateFor(ev.Feature))
}

// A2dpStart describes an A2DP start request.
type A2dpStart struct {
	// Forwarding is set when the primary relays media to the secondary.
	Forwarding bool
}

// RequestA2dpStart queues an A2DP start.
func (o *Orchestrator) RequestA2dpStart(req A2dpStart) {
	o.loop.SendConditionally(o.task, msgA2dpStart, req, lockgate.All(o.gates.A2DP, o.gates.Tone, o.gates.Leakthrough))
}

// RequestA2dpStop queues an A2DP stop.
func (o *Orchestrator) RequestA2dpStop() {
	o.loop.SendConditionally(o.task, msgA2dpStop, nil, lockgate.All(o.gates.A2DP, o.gates.Leakthrough))
}

// ScoStart describes a SCO start request.
type ScoStart struct {
	Mode ScoMode
	// Forwarding is set when SCO audio is relayed between the buds. On the
	// secondary it means this bud receives the forwarded audio.
	Forwarding bool
}

// RequestScoStart queues a SCO start.
func (o *Orchestrator) RequestScoStart(req ScoStart) {
	o.loop.SendConditionally(o.task, msgScoStart, req, lockgate.All(o.gates.SCO, o.gates.Tone, o.gates.Leakthrough))
}

// RequestScoStop queues a SCO stop.
func (o *Orchestrator) RequestScoStop() {
	o.loop.SendConditionally(o.task, msgScoStop, nil, lockgate.All(o.gates.SCO, o.gates.Leakthrough))
}

// RequestTone queues a tone of the given duration.
func (o *Orchestrator) RequestTone(d time.Duration) {
	o.loop.SendConditionally(o.task, msgToneStart, d, lockgate.All(o.gates.Tone, o.gates.Leakthrough))
}

// RequestTuningStart queues entry to ANC tuning with the given USB rate.
func (o *Orchestrator) RequestTuningStart(usbRate int) {
	o.loop.SendConditionally(o.task, msgTuningStart, usbRate, lockgate.All(o.gates.ANC, o.gates.Tone, o.gates.Leakthrough))
}

// RequestTuningStop queues exit from ANC tuning.
func (o *Orchestrator) RequestTuningStop() {
	o.loop.SendConditionally(o.task, msgTuningStop, nil, o.gates.ANC)
}

func (o *Orchestrator) handle(id sched.MessageID, msg any) {
	switch id {
	case msgAncState, msgAncMode, msgAncGain:
		o.handleFeature(msg.(Event), o.handleAnc)
	case msgLeakthroughState, msgLeakthroughMode:
		o.handleFeature(msg.(Event), o.handleLeakthrough)
	case msgSidetoneEnable:
		o.sidetoneEnable()
	case msgA2dpStart:
		o.a2dpStart(msg.(A2dpStart))
	case msgA2dpStage:
		o.a2dpStage()
	case msgA2dpStop:
		o.a2dpStop()
	case msgScoStart:
		o.scoStart(msg.(ScoStart))
	case msgScoStop:
		o.scoStop()
	case msgToneStart:
		o.toneStart(msg.(time.Duration))
	case msgToneEnd:
		o.toneEnd()
	case msgTuningStart:
		o.tuningStart(msg.(int))
	case msgTuningStop:
		o.tuningStop()
	default:
		o.log.Warn("pipeline: unknown message", "id", id)
	}
}

func (o *Orchestrator) setState(s State) {
	if s == o.state {
		return
	}
	from := o.state
	o.log.Info("pipeline: state", "from", from, "to", s)
	o.state = s
	if o.onChange != nil {
		o.onChange(from, s)
	}
}

// handleFeature runs fn for ev and reports a failure only once fn has
// returned, so the feature state read by OnFatal is final.
func (o *Orchestrator) handleFeature(ev Event, fn func(Event)) {
	o.event = &ev
	fn(ev)
	err := o.eventErr
	o.event, o.eventErr = nil, nil
	if err != nil {
		o.onFatal(err)
	}
}

func (o *Orchestrator) fatal(err error) {
	if o.event == nil {
		o.onFatal(err)
		return
	}
	var hw *HardwareError
	if errors.As(err, &hw) && hw.Event == nil {
		hw.Event = o.event
	}
	if o.eventErr == nil {
		o.eventErr = err
	}
}

// FeatureState returns what the hardware currently realizes for k.
func (o *Orchestrator) FeatureState(k feature.Kind) feature.State {
	if k == feature.ANC {
		return feature.State{Enabled: o.anc.state == AncOn, Mode: o.anc.mode, Gain: o.anc.gain}
	}
	return feature.State{Enabled: o.lt.enabled, Mode: o.lt.mode}
}

func (o *Orchestrator) reject(what string, args ...any) {
	o.log.Warn("pipeline: "+what, append([]any{"state", o.state}, args...)...)
}

// steps runs hardware calls in order and stops at the first failure.
type steps struct {
	err error
}

func (s *steps) do(op string, fn func() error) {
	if s.err != nil {
		return
	}
	if err := fn(); err != nil {
		s.err = &HardwareError{Op: op, Err: err}
	}
}

// bestEffort runs a teardown call and logs failures.
func (o *Orchestrator) bestEffort(op string, fn func() error) {
	if err := fn(); err != nil {
		o.log.Warn("pipeline: teardown step failed", "op", op, "err", err)
	}
}

func (o *Orchestrator) release(g *lockgate.Gate) {
	if err := g.Release(); err != nil {
		o.log.Error("pipeline: gate", "err", err)
	}
}
