// Package featsync keeps one audio feature consistent across the two buds
// of a pair.
//
// A local command is sent to the peer when the link is up and applied
// locally only once the transmit is confirmed; with no link it is applied
// at once. Commands from the peer are applied after a settling delay. After
// a link loss the authoritative bud sends a full snapshot, which the other
// bud applies enable first, then mode, then gain, without delay.
//
// Applying never touches hardware: it submits pipeline events to a Sink,
// normally the pipeline orchestrator. An Engine is not safe for concurrent
// use; it is driven from the device loop.
package featsync

import (
	"log/slog"
	"time"

	"github.com/haivivi/twinbud/pkg/feature"
	"github.com/haivivi/twinbud/pkg/peer"
	"github.com/haivivi/twinbud/pkg/pipeline"
)

// DefaultSettleDelay is the delay applied to commands originating at the
// peer.
const DefaultSettleDelay = 10 * time.Millisecond

// Sink receives pipeline events.
type Sink interface {
	Submit(ev pipeline.Event, delay time.Duration)
}

// Peer is the part of a peer channel an engine needs.
type Peer interface {
	Connected() bool
	Send(ch peer.ChannelID, data []byte) error
}

// Options configures an Engine.
type Options struct {
	Kind feature.Kind

	// Channel defaults to peer.ChannelFor(Kind).
	Channel peer.ChannelID

	Peer Peer
	Sink Sink

	// Role resolves this bud's current role. Default is always Primary.
	Role func() feature.Role

	// Authority is the role that resends its state after a link loss.
	// Default is Primary.
	Authority feature.Role

	// SettleDelay is the delay for peer-originated commands.
	// Default is DefaultSettleDelay.
	SettleDelay time.Duration

	// ApplyInCase applies commands while the bud is in its case. When
	// false, commands issued in the case are stored and applied on removal.
	ApplyInCase bool

	// OnChange is called after every change of the stored state.
	OnChange func(feature.State)

	Logger *slog.Logger
}

// Engine is the synchronization engine of one feature.
type Engine struct {
	kind        feature.Kind
	ch          peer.ChannelID
	peer        Peer
	sink        Sink
	role        func() feature.Role
	authority   feature.Role
	settle      time.Duration
	applyInCase bool
	onChange    func(feature.State)
	log         *slog.Logger

	state feature.State

	// Last command sent to the peer, kept until its confirmation.
	pending    []byte
	pendingCmd feature.Payload
	hasPending bool

	inCase bool
	// dirty is set when a change was stored but not applied.
	dirty bool
}

// New returns an engine with the feature disabled in mode 0.
func New(opts Options) *Engine {
	e := &Engine{
		kind:        opts.Kind,
		ch:          opts.Channel,
		peer:        opts.Peer,
		sink:        opts.Sink,
		role:        opts.Role,
		authority:   opts.Authority,
		settle:      opts.SettleDelay,
		applyInCase: opts.ApplyInCase,
		onChange:    opts.OnChange,
		log:         opts.Logger,
	}
	if e.ch == 0 {
		e.ch = peer.ChannelFor(e.kind)
	}
	if e.role == nil {
		e.role = func() feature.Role { return feature.Primary }
	}
	if e.settle <= 0 {
		e.settle = DefaultSettleDelay
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	e.log = e.log.With("feature", e.kind.String())
	return e
}

// Kind returns the engine's feature.
func (e *Engine) Kind() feature.Kind { return e.kind }

// State returns the stored state.
func (e *Engine) State() feature.State { return e.state }

// IsEnabled reports whether the feature is enabled.
func (e *Engine) IsEnabled() bool { return e.state.Enabled }

// Mode returns the stored mode.
func (e *Engine) Mode() feature.Mode { return e.state.Mode }

// Gain returns the stored gain. It is only meaningful for ANC.
func (e *Engine) Gain() uint8 { return e.state.Gain }

// PendingCommand returns the last payload sent to the peer and not yet
// confirmed, or nil.
func (e *Engine) PendingCommand() []byte {
	if !e.hasPending {
		return nil
	}
	return append([]byte(nil), e.pending...)
}

// Restore seeds the stored state without applying it. Call Reapply to
// apply it.
func (e *Engine) Restore(s feature.State) {
	if !s.Mode.Valid(e.kind) {
		s.Mode = 0
	}
	if !e.kind.HasGain() {
		s.Gain = 0
	}
	e.state = s
	e.dirty = true
}

// desired is the state the latest command is heading to. A pending
// command is ignored once the link is down; its confirmation will fail.
func (e *Engine) desired() feature.State {
	if e.hasPending && !e.pendingCmd.LinkLoss && e.peer != nil && e.peer.Connected() {
		return e.pendingCmd.State
	}
	return e.state
}

// Enable enables the feature. It is a no-op if already enabled.
func (e *Engine) Enable() {
	s := e.desired()
	if s.Enabled {
		return
	}
	s.Enabled = true
	e.command(feature.OpState, s)
}

// Disable disables the feature. It is a no-op if already disabled.
func (e *Engine) Disable() {
	s := e.desired()
	if !s.Enabled {
		return
	}
	s.Enabled = false
	e.command(feature.OpState, s)
}

// SetMode changes the mode and reports success. It fails while the feature
// is disabled; leakthrough still stores the mode for the next enable.
func (e *Engine) SetMode(mode feature.Mode) bool {
	if !mode.Valid(e.kind) {
		e.log.Warn("featsync: invalid mode", "mode", int(mode))
		return false
	}
	s := e.desired()
	if !s.Enabled {
		if e.kind == feature.Leakthrough && e.state.Mode != mode {
			e.state.Mode = mode
			if e.hasPending {
				e.pendingCmd.State.Mode = mode
			}
			e.changed()
		}
		return false
	}
	if s.Mode == mode {
		return true
	}
	s.Mode = mode
	e.command(feature.OpMode, s)
	return true
}

// SetGain changes the gain and reports success. It fails while the feature
// is disabled and for features without gain.
func (e *Engine) SetGain(gain uint8) bool {
	if !e.kind.HasGain() {
		return false
	}
	s := e.desired()
	if !s.Enabled {
		return false
	}
	if s.Gain == gain {
		return true
	}
	s.Gain = gain
	e.command(feature.OpGain, s)
	return true
}

// command replicates a local command, or applies it when there is no peer.
func (e *Engine) command(op feature.Op, s feature.State) {
	if e.peer == nil || !e.peer.Connected() {
		e.apply(s, 0)
		return
	}
	p := feature.Payload{Op: op, State: s}
	if err := e.send(p); err != nil {
		e.log.Warn("featsync: send failed, applying locally", "err", err)
		e.apply(s, 0)
	}
}

func (e *Engine) send(p feature.Payload) error {
	b, err := feature.Encode(e.kind, p)
	if err != nil {
		return err
	}
	e.pending = b
	e.pendingCmd = p
	e.hasPending = true
	if err := e.peer.Send(e.ch, b); err != nil {
		e.hasPending = false
		e.pending = nil
		return err
	}
	e.log.Debug("featsync: sent", "payload", p)
	return nil
}

// OnIncomingPeerPayload handles a payload received on the feature's channel.
func (e *Engine) OnIncomingPeerPayload(b []byte) {
	p, err := feature.Decode(e.kind, b)
	if err != nil {
		e.log.Warn("featsync: drop payload", "err", err, "len", len(b))
		return
	}
	e.log.Debug("featsync: received", "payload", p)
	if p.LinkLoss {
		e.resync(p.State)
		return
	}
	e.apply(p.State, e.settle)
}

// OnPeerTxConfirmation handles the delivery outcome of the pending command.
func (e *Engine) OnPeerTxConfirmation(status peer.Status) {
	if !e.hasPending {
		e.log.Debug("featsync: confirmation with nothing pending", "status", status)
		return
	}
	p := e.pendingCmd
	e.hasPending = false
	e.pending = nil
	if status != peer.StatusSuccess {
		e.log.Warn("featsync: peer did not receive command", "payload", p, "status", status)
		return
	}
	if p.LinkLoss {
		return
	}
	e.apply(p.State, 0)
}

// OnPeerConnectIndication handles the peer link coming up. After a link
// loss the authoritative bud sends its current state as a snapshot.
//
// Authority is a configured role, not the bud that stayed connected to the
// phone, so changes made on the other bud while the link was down are
// overwritten.
func (e *Engine) OnPeerConnectIndication(wasLinkLoss bool) {
	if !wasLinkLoss {
		return
	}
	role := e.role()
	if role != e.authority {
		e.log.Debug("featsync: not authoritative, awaiting resync", "role", role)
		return
	}
	if e.peer == nil {
		return
	}
	p := feature.Payload{LinkLoss: true, State: e.state}
	if err := e.send(p); err != nil {
		e.log.Warn("featsync: resync send failed", "err", err)
		return
	}
	e.log.Info("featsync: resync sent", "state", e.state)
}

// OnApplyFailed rolls the stored state back after the pipeline failed to
// realize ev. actual is what the hardware holds now; only the field ev was
// changing is taken from it.
func (e *Engine) OnApplyFailed(ev pipeline.Event, actual feature.State) {
	s := e.state
	switch ev.Type {
	case pipeline.FeatureOn, pipeline.FeatureOff:
		s.Enabled = actual.Enabled
	case pipeline.SetMode:
		s.Mode = actual.Mode
	case pipeline.SetGain:
		s.Gain = actual.Gain
	}
	if s == e.state {
		return
	}
	e.log.Warn("featsync: pipeline failed, state rolled back", "event", ev, "state", s)
	e.state = s
	e.changed()
}

// SetInCase records whether the bud is in its case. Leaving the case
// applies any change stored while inside.
func (e *Engine) SetInCase(in bool) {
	was := e.inCase
	e.inCase = in
	if was && !in {
		e.Reapply()
	}
}

// InCase reports the recorded case state.
func (e *Engine) InCase() bool { return e.inCase }

func (e *Engine) suppressed() bool {
	return e.inCase && !e.applyInCase
}

// Reapply applies the stored state as a full snapshot if it has changed
// since it was last applied.
func (e *Engine) Reapply() {
	if !e.dirty || e.suppressed() {
		return
	}
	e.dirty = false
	e.submitSnapshot(e.state)
}

func (e *Engine) changed() {
	if e.onChange != nil {
		e.onChange(e.state)
	}
}

// apply stores s and submits the events that take the pipeline from the
// previous state to s.
func (e *Engine) apply(s feature.State, delay time.Duration) {
	prev := e.state
	e.state = s
	if prev != s {
		e.changed()
	}
	if e.suppressed() {
		if prev != s {
			e.dirty = true
			e.log.Info("featsync: in case, stored only", "state", s)
		}
		return
	}

	switch {
	case !prev.Enabled && s.Enabled:
		e.submit(pipeline.FeatureOn, s, delay)
		if e.kind == feature.ANC {
			e.submit(pipeline.SetMode, s, delay)
		}
		if e.kind.HasGain() && s.Gain != prev.Gain {
			e.submit(pipeline.SetGain, s, delay)
		}
	case prev.Enabled && !s.Enabled:
		e.submit(pipeline.FeatureOff, s, delay)
	case s.Enabled:
		if s.Mode != prev.Mode {
			e.submit(pipeline.SetMode, s, delay)
		}
		if e.kind.HasGain() && s.Gain != prev.Gain {
			e.submit(pipeline.SetGain, s, delay)
		}
	}
}

// resync applies a peer snapshot: enable or disable, then mode and gain
// when enabled, all without delay.
func (e *Engine) resync(s feature.State) {
	prev := e.state
	e.state = s
	if prev != s {
		e.changed()
	}
	if e.suppressed() {
		e.dirty = true
		return
	}
	e.submitSnapshot(s)
}

func (e *Engine) submitSnapshot(s feature.State) {
	if !s.Enabled {
		e.submit(pipeline.FeatureOff, s, 0)
		return
	}
	e.submit(pipeline.FeatureOn, s, 0)
	e.submit(pipeline.SetMode, s, 0)
	if e.kind.HasGain() {
		e.submit(pipeline.SetGain, s, 0)
	}
}

func (e *Engine) submit(t pipeline.EventType, s feature.State, delay time.Duration) {
	if e.sink == nil {
		return
	}
	e.sink.Submit(pipeline.Event{Feature: e.kind, Type: t, Mode: s.Mode, Gain: s.Gain}, delay)
}
