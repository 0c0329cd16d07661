package pipeline

import (
	"github.com/haivivi/twinbud/pkg/chain"
	"github.com/haivivi/twinbud/pkg/feature"
)

func (o *Orchestrator) handleAnc(ev Event) {
	if o.anc.state == AncUninitialised {
		o.reject("anc not initialised", "event", ev)
		return
	}
	if o.state == AncTuning {
		o.anc.deferred = append(o.anc.deferred, ev)
		o.log.Info("pipeline: anc event deferred until tuning ends", "event", ev)
		return
	}
	switch ev.Type {
	case FeatureOn:
		o.ancOn()
	case FeatureOff:
		o.ancOff()
	case SetMode:
		o.ancSetMode(ev.Mode)
	case SetGain:
		o.ancSetGain(ev.Gain)
	}
}

func (o *Orchestrator) ancOn() {
	if o.anc.state != AncOff {
		return
	}
	if err := o.plat.AncEnable(true); err != nil {
		o.fatal(&HardwareError{Op: "anc enable", Err: err})
		return
	}
	o.anc.state = AncOn
	o.log.Info("pipeline: anc on", "mode", o.anc.mode)
}

func (o *Orchestrator) ancOff() {
	if o.anc.state != AncOn {
		return
	}
	if err := o.plat.AncEnable(false); err != nil {
		o.fatal(&HardwareError{Op: "anc disable", Err: err})
		return
	}
	o.anc.state = AncOff
	o.log.Info("pipeline: anc off")
}

func (o *Orchestrator) ancSetMode(mode feature.Mode) {
	if o.anc.state != AncOn {
		o.reject("anc set mode while off", "mode", mode)
		return
	}
	if err := o.plat.AncSetMode(uint8(mode)); err != nil {
		o.fatal(&HardwareError{Op: "anc set mode", Err: err})
		return
	}
	o.anc.mode = mode
}

// gainPath maps the fitted topology to the path whose fine gain is
// adjusted.
func (o *Orchestrator) gainPath() (chain.GainPath, bool) {
	switch o.ancPath {
	case AncPathHybrid:
		return chain.PathFFB, true
	case AncPathFeedForward:
		return chain.PathFFA, true
	default:
		return 0, false
	}
}

func (o *Orchestrator) ancSetGain(gain uint8) {
	if o.anc.state != AncOn {
		o.reject("anc set gain while off", "gain", gain)
		return
	}
	path, ok := o.gainPath()
	if !ok {
		o.reject("anc gain not supported on path", "path", o.ancPath)
		return
	}
	if err := o.plat.AncSetPathGain(path, gain); err != nil {
		o.fatal(&HardwareError{Op: "anc set gain", Err: err})
		return
	}
	o.anc.gain = gain
}

// resumeAnc replays the ANC events received during tuning.
func (o *Orchestrator) resumeAnc() {
	evs := o.anc.deferred
	o.anc.deferred = nil
	for _, ev := range evs {
		o.handleFeature(ev, o.handleAnc)
	}
}
