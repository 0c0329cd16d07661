package earbud

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/haivivi/twinbud/pkg/chain"
	"github.com/haivivi/twinbud/pkg/feature"
	"github.com/haivivi/twinbud/pkg/kv"
	"github.com/haivivi/twinbud/pkg/pipeline"
)

// FeatureStatus is the replicated state of one feature.
type FeatureStatus struct {
	feature.State `yaml:",inline"`
	// Pending is the hex payload awaiting peer confirmation.
	Pending string `json:"pending,omitempty" yaml:"pending,omitempty"`
}

// Status is a diagnostic view of a device.
type Status struct {
	Role          feature.Role             `json:"role" yaml:"role"`
	InCase        bool                     `json:"in_case" yaml:"in_case"`
	PeerConnected bool                     `json:"peer_connected" yaml:"peer_connected"`
	Peer          string                   `json:"peer,omitempty" yaml:"peer,omitempty"`
	Features      map[string]FeatureStatus `json:"features" yaml:"features"`
	Pipeline      pipeline.Snapshot        `json:"pipeline" yaml:"pipeline"`
	Platform      *chain.SimStatus         `json:"platform,omitempty" yaml:"platform,omitempty"`
	LastError     string                   `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

func (d *Device) status() Status {
	st := Status{
		Role:     d.role,
		InCase:   d.inCase,
		Features: make(map[string]FeatureStatus, len(d.engines)),
		Pipeline: d.orch.Snapshot(),
	}
	if d.peer != nil {
		st.PeerConnected = d.peer.Connected()
		st.Peer = d.peer.PeerAddress()
	}
	for k, e := range d.engines {
		st.Features[k.String()] = FeatureStatus{
			State:   e.State(),
			Pending: hex.EncodeToString(e.PendingCommand()),
		}
	}
	if d.sim != nil {
		ps := d.sim.Status()
		st.Platform = &ps
	}
	if d.lastFatal != nil {
		st.LastError = d.lastFatal.Error()
	}
	return st
}

// Status returns a diagnostic view of the device.
func (d *Device) Status(ctx context.Context) (Status, error) {
	var st Status
	err := d.loop.Call(ctx, func() { st = d.status() })
	return st, err
}

func (d *Device) engine(k feature.Kind) error {
	if _, ok := d.engines[k]; !ok {
		return fmt.Errorf("%w: %d", feature.ErrUnknownKind, k)
	}
	return nil
}

// Enable turns feature k on.
func (d *Device) Enable(ctx context.Context, k feature.Kind) error {
	if err := d.engine(k); err != nil {
		return err
	}
	return d.loop.Call(ctx, func() { d.engines[k].Enable() })
}

// Disable turns feature k off.
func (d *Device) Disable(ctx context.Context, k feature.Kind) error {
	if err := d.engine(k); err != nil {
		return err
	}
	return d.loop.Call(ctx, func() { d.engines[k].Disable() })
}

// SetMode changes the mode of feature k. It fails with
// feature.ErrFeatureDisabled or feature.ErrInvalidMode when the engine
// rejects the change.
func (d *Device) SetMode(ctx context.Context, k feature.Kind, mode feature.Mode) error {
	if err := d.engine(k); err != nil {
		return err
	}
	if !mode.Valid(k) {
		return fmt.Errorf("%w: %s %d", feature.ErrInvalidMode, k, mode)
	}
	var ok bool
	if err := d.loop.Call(ctx, func() { ok = d.engines[k].SetMode(mode) }); err != nil {
		return err
	}
	if !ok {
		if k == feature.Leakthrough {
			return fmt.Errorf("%w: %s, mode kept for the next enable", feature.ErrFeatureDisabled, k)
		}
		return fmt.Errorf("%w: %s", feature.ErrFeatureDisabled, k)
	}
	return nil
}

// SetGain changes the ANC gain.
func (d *Device) SetGain(ctx context.Context, gain uint8) error {
	var ok bool
	if err := d.loop.Call(ctx, func() { ok = d.engines[feature.ANC].SetGain(gain) }); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", feature.ErrFeatureDisabled, feature.ANC)
	}
	return nil
}

// SetInCase records whether the bud sits in its case.
func (d *Device) SetInCase(ctx context.Context, in bool) error {
	return d.loop.Call(ctx, func() { d.setInCase(in) })
}

// StartA2dp requests music playback.
func (d *Device) StartA2dp(forwarding bool) {
	d.orch.RequestA2dpStart(pipeline.A2dpStart{Forwarding: forwarding})
}

// StopA2dp stops music playback.
func (d *Device) StopA2dp() { d.orch.RequestA2dpStop() }

// StartSco requests a voice call.
func (d *Device) StartSco(mode pipeline.ScoMode, forwarding bool) {
	d.orch.RequestScoStart(pipeline.ScoStart{Mode: mode, Forwarding: forwarding})
}

// StopSco ends the voice call.
func (d *Device) StopSco() { d.orch.RequestScoStop() }

// PlayTone plays a prompt for dur.
func (d *Device) PlayTone(dur time.Duration) { d.orch.RequestTone(dur) }

// StartTuning starts ANC tuning over USB at usbRate.
func (d *Device) StartTuning(usbRate int) { d.orch.RequestTuningStart(usbRate) }

// StopTuning ends ANC tuning.
func (d *Device) StopTuning() { d.orch.RequestTuningStop() }

// ProductionTestMode reports whether the ANC production test flag is set.
func (d *Device) ProductionTestMode(ctx context.Context) (bool, error) {
	var on bool
	err := kv.GetValue(ctx, d.store, keyProdTest, &on)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	return on, err
}

// EnterCalibration sets the ANC production test flag.
func (d *Device) EnterCalibration(ctx context.Context) error {
	return kv.SetValue(ctx, d.store, keyProdTest, true)
}

// EndCalibration clears the ANC production test flag.
func (d *Device) EndCalibration(ctx context.Context) error {
	return d.store.Delete(ctx, keyProdTest)
}
