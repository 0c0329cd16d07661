package pipeline

import (
	"github.com/haivivi/twinbud/pkg/chain"
	"github.com/haivivi/twinbud/pkg/feature"
)

var leakthroughChain = chain.Config{
	Name:      "leakthrough",
	Operators: []chain.Role{chain.RoleAEC},
}

func (o *Orchestrator) handleLeakthrough(ev Event) {
	switch ev.Type {
	case FeatureOn:
		o.leakthroughEnable(ev.Mode)
	case FeatureOff:
		o.leakthroughDisable()
	case SetMode:
		o.leakthroughSetMode(ev.Mode)
	default:
		o.reject("unsupported leakthrough event", "event", ev)
	}
}

// aecOwner returns the AEC operator that carries the sidetone path in the
// current state.
func (o *Orchestrator) aecOwner() (chain.Operator, bool) {
	switch {
	case o.state.IsSco():
		return o.sco.aec, true
	case o.state.IsA2dpStreaming():
		return o.a2dp.aec, true
	case o.state == StandaloneLeakthrough:
		return o.lt.aec, true
	default:
		return chain.Operator{}, false
	}
}

func (o *Orchestrator) ucid() int {
	return LeakthroughUCID(o.lt.mode, o.state.IsSco(), o.sco.mode)
}

func (o *Orchestrator) leakthroughEnable(mode feature.Mode) {
	if o.lt.enabled && o.LeakthroughActive() {
		if mode != o.lt.mode {
			o.leakthroughSetMode(mode)
		}
		return
	}
	o.lt.enabled = true
	o.lt.mode = mode

	switch {
	case o.state == Idle:
		o.enterStandalone()
		if o.state != StandaloneLeakthrough {
			o.lt.enabled = false
		}
	case o.state.IsA2dpStreaming(), o.state.IsSco():
		o.attachLeakthrough()
		if !o.lt.attached {
			o.lt.enabled = false
		}
	default:
		// Applied when the current activity returns to Idle or reaches
		// a streaming state.
		o.log.Info("pipeline: leakthrough enable deferred", "state", o.state)
	}
}

func (o *Orchestrator) leakthroughDisable() {
	if !o.lt.enabled {
		return
	}
	o.lt.enabled = false
	switch {
	case o.state == StandaloneLeakthrough:
		o.exitStandalone()
		if o.state == StandaloneLeakthrough {
			o.lt.enabled = true
		}
	case o.lt.attached:
		o.detachLeakthrough()
	}
}

func (o *Orchestrator) leakthroughSetMode(mode feature.Mode) {
	prev := o.lt.mode
	o.lt.mode = mode
	aec, ok := o.aecOwner()
	if !ok || !o.LeakthroughActive() {
		return
	}
	var s steps
	s.do("set ucid", func() error { return o.res.SetParameter(aec, chain.ParamUCID, o.ucid()) })
	if s.err != nil {
		o.lt.mode = prev
		o.fatal(s.err)
		return
	}
	o.armSidetone()
}

// armSidetone (re)starts the settling timer after which the sidetone gain
// is raised to its default.
func (o *Orchestrator) armSidetone() {
	o.loop.CancelAll(o.task, msgSidetoneEnable)
	o.loop.SendLater(o.task, msgSidetoneEnable, nil, o.sidetone)
}

// cancelSidetone stops a pending settling timer and drops the leakthrough
// gate if the standalone chain was holding it.
func (o *Orchestrator) cancelSidetone() {
	o.loop.CancelAll(o.task, msgSidetoneEnable)
	if o.lt.settling {
		o.lt.settling = false
		o.release(o.gates.Leakthrough)
	}
}

func (o *Orchestrator) sidetoneEnable() {
	defer func() {
		if o.lt.settling {
			o.lt.settling = false
			o.release(o.gates.Leakthrough)
		}
	}()
	aec, ok := o.aecOwner()
	if !ok || !o.LeakthroughActive() {
		o.log.Debug("pipeline: sidetone timer with no leakthrough path")
		return
	}
	var s steps
	s.do("sidetone default", func() error {
		return o.res.SetParameter(aec, chain.ParamSidetoneGain, SidetoneGainDefault)
	})
	s.do("set ucid", func() error { return o.res.SetParameter(aec, chain.ParamUCID, o.ucid()) })
	if s.err != nil {
		o.fatal(s.err)
	}
}

// enterStandalone builds the dedicated leakthrough chain. The leakthrough
// gate is held until the sidetone timer fires.
func (o *Orchestrator) enterStandalone() {
	if o.state != Idle {
		return
	}
	o.gates.Leakthrough.Acquire()

	var (
		s     steps
		h     chain.Handle
		aec   chain.Operator
		built bool
		mic   bool
		dac   bool
		amp   bool
	)
	s.do("create leakthrough chain", func() (err error) {
		h, err = o.res.Create(leakthroughChain)
		built = err == nil
		return err
	})
	s.do("find aec", func() (err error) {
		aec, err = o.res.OperatorByRole(h, chain.RoleAEC)
		return err
	})
	s.do("connect mic", func() error {
		err := o.res.ConnectSource(chain.MicLeft, aec, 0)
		mic = err == nil
		return err
	})
	s.do("connect dac", func() error {
		err := o.res.ConnectSink(aec, 0, chain.DAC)
		dac = err == nil
		return err
	})
	s.do("connect leakthrough chain", func() error { return o.res.Connect(h) })
	s.do("output rate", func() error { return o.plat.SetOutputRate(LeakthroughRate) })
	s.do("kick period", func() error { return o.plat.SetKickPeriod(KickPeriodLeakthrough) })
	s.do("set ucid", func() error {
		return o.res.SetParameter(aec, chain.ParamUCID, LeakthroughUCID(o.lt.mode, false, NoSco))
	})
	s.do("sidetone min", func() error { return o.res.SetParameter(aec, chain.ParamSidetoneGain, SidetoneGainMin) })
	s.do("sidetone path", func() error { return o.res.SetParameter(aec, chain.ParamSidetoneEnable, 1) })
	s.do("amp on", func() error {
		err := o.plat.Amplifier(true)
		amp = err == nil
		return err
	})
	s.do("start leakthrough chain", func() error { return o.res.Start(h) })

	if s.err != nil {
		if amp {
			o.bestEffort("amp off", func() error { return o.plat.Amplifier(false) })
		}
		if built {
			o.bestEffort("destroy", func() error { return o.res.Destroy(h) })
		}
		if mic {
			o.bestEffort("disconnect mic", func() error { return o.res.DisconnectSource(chain.MicLeft) })
		}
		if dac {
			o.bestEffort("disconnect dac", func() error { return o.res.DisconnectSink(chain.DAC) })
		}
		o.release(o.gates.Leakthrough)
		o.fatal(s.err)
		return
	}

	o.lt.chain = h
	o.lt.aec = aec
	o.lt.settling = true
	o.setState(StandaloneLeakthrough)
	o.armSidetone()
}

// exitStandalone tears the standalone chain down and returns to Idle.
func (o *Orchestrator) exitStandalone() {
	if o.state != StandaloneLeakthrough {
		return
	}
	o.cancelSidetone()

	var s steps
	s.do("sidetone min", func() error {
		return o.res.SetParameter(o.lt.aec, chain.ParamSidetoneGain, SidetoneGainMin)
	})
	s.do("stop leakthrough chain", func() error { return o.res.Stop(o.lt.chain) })
	s.do("destroy leakthrough chain", func() error { return o.res.Destroy(o.lt.chain) })
	s.do("disconnect mic", func() error { return o.res.DisconnectSource(chain.MicLeft) })
	s.do("disconnect dac", func() error { return o.res.DisconnectSink(chain.DAC) })
	s.do("amp off", func() error { return o.plat.Amplifier(false) })
	s.do("output rate", func() error { return o.plat.SetOutputRate(0) })
	if s.err != nil {
		o.fatal(s.err)
		return
	}
	o.lt.chain = 0
	o.lt.aec = chain.Operator{}
	o.setState(Idle)
}

// suspendLeakthrough tears down a running standalone chain so another
// activity can take the hardware, keeping the enabled flag.
func (o *Orchestrator) suspendLeakthrough() bool {
	if o.state != StandaloneLeakthrough {
		return true
	}
	o.exitStandalone()
	return o.state == Idle
}

// resumeLeakthrough rebuilds the standalone chain after an activity ended.
func (o *Orchestrator) resumeLeakthrough() {
	if o.lt.enabled && o.state == Idle {
		o.enterStandalone()
	}
}

// attachLeakthrough routes leakthrough through the running A2DP or SCO
// chain's AEC.
func (o *Orchestrator) attachLeakthrough() {
	aec, ok := o.aecOwner()
	if !ok || o.lt.attached {
		return
	}
	var s steps
	if o.state.IsA2dpStreaming() {
		s.do("connect mic", func() error { return o.res.ConnectSource(chain.MicLeft, aec, 1) })
	}
	s.do("sidetone min", func() error { return o.res.SetParameter(aec, chain.ParamSidetoneGain, SidetoneGainMin) })
	s.do("sidetone path", func() error { return o.res.SetParameter(aec, chain.ParamSidetoneEnable, 1) })
	s.do("set ucid", func() error { return o.res.SetParameter(aec, chain.ParamUCID, o.ucid()) })
	if s.err != nil {
		o.fatal(s.err)
		return
	}
	o.lt.attached = true
	o.armSidetone()
}

func (o *Orchestrator) detachLeakthrough() {
	if !o.lt.attached {
		return
	}
	o.cancelSidetone()
	aec, _ := o.aecOwner()
	var s steps
	s.do("sidetone min", func() error { return o.res.SetParameter(aec, chain.ParamSidetoneGain, SidetoneGainMin) })
	s.do("sidetone path", func() error { return o.res.SetParameter(aec, chain.ParamSidetoneEnable, 0) })
	if o.state.IsA2dpStreaming() {
		s.do("disconnect mic", func() error { return o.res.DisconnectSource(chain.MicLeft) })
	}
	o.lt.attached = false
	if s.err != nil {
		o.fatal(s.err)
	}
}
