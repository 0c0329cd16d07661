package pipeline

import (
	"github.com/haivivi/twinbud/pkg/chain"
	"github.com/haivivi/twinbud/pkg/feature"
)

var a2dpChain = chain.Config{
	Name:      "a2dp",
	Operators: []chain.Role{chain.RoleDecoder, chain.RoleAEC, chain.RoleVolume},
}

// a2dpStart begins the staged start. The a2dp gate is held until the chain
// is streaming or the start is abandoned.
func (o *Orchestrator) a2dpStart(req A2dpStart) {
	switch {
	case o.state == AncTuning:
		o.reject("a2dp start during tuning")
		return
	case o.state != Idle && o.state != StandaloneLeakthrough:
		o.reject("a2dp start not idle")
		return
	}
	if !o.suspendLeakthrough() {
		return
	}
	o.a2dp.forwarding = req.Forwarding
	o.gates.A2DP.Acquire()

	var s steps
	var h chain.Handle
	s.do("create a2dp chain", func() (err error) {
		h, err = o.res.Create(a2dpChain)
		return err
	})
	if s.err != nil {
		o.release(o.gates.A2DP)
		o.fatal(s.err)
		o.resumeLeakthrough()
		return
	}
	o.a2dp.chain = h
	o.setState(A2dpStartingA)
	o.loop.Send(o.task, msgA2dpStage, nil)
}

// a2dpStage advances one start stage per message so other work can run
// between stages.
func (o *Orchestrator) a2dpStage() {
	var s steps
	h := o.a2dp.chain
	switch o.state {
	case A2dpStartingA:
		var dec, vol chain.Operator
		s.do("find decoder", func() (err error) {
			dec, err = o.res.OperatorByRole(h, chain.RoleDecoder)
			return err
		})
		s.do("find volume", func() (err error) {
			vol, err = o.res.OperatorByRole(h, chain.RoleVolume)
			return err
		})
		s.do("find aec", func() (err error) {
			o.a2dp.aec, err = o.res.OperatorByRole(h, chain.RoleAEC)
			return err
		})
		s.do("connect a2dp source", func() error { return o.res.ConnectSource(chain.A2DPIn, dec, 0) })
		s.do("connect dac", func() error { return o.res.ConnectSink(vol, 0, chain.DAC) })
		if s.err == nil {
			o.setState(A2dpStartingB)
		}
	case A2dpStartingB:
		s.do("connect a2dp chain", func() error { return o.res.Connect(h) })
		s.do("output rate", func() error { return o.plat.SetOutputRate(A2dpRate) })
		s.do("kick period", func() error { return o.plat.SetKickPeriod(KickPeriodDefault) })
		s.do("amp on", func() error { return o.plat.Amplifier(true) })
		if s.err == nil {
			o.setState(A2dpStartingC)
		}
	case A2dpStartingC:
		s.do("start a2dp chain", func() error { return o.res.Start(h) })
		if s.err == nil {
			if o.a2dp.forwarding && o.role == feature.Primary {
				o.setState(A2dpStreamingWithForwarding)
			} else {
				o.setState(A2dpStreaming)
			}
			o.release(o.gates.A2DP)
			if o.lt.enabled {
				o.attachLeakthrough()
			}
			return
		}
	default:
		o.log.Warn("pipeline: stray a2dp stage", "state", o.state)
		return
	}

	if s.err != nil {
		o.abortA2dp(s.err)
		return
	}
	o.loop.Send(o.task, msgA2dpStage, nil)
}

func (o *Orchestrator) abortA2dp(err error) {
	o.bestEffort("destroy", func() error { return o.res.Destroy(o.a2dp.chain) })
	o.bestEffort("disconnect a2dp source", func() error { return o.res.DisconnectSource(chain.A2DPIn) })
	o.bestEffort("disconnect dac", func() error { return o.res.DisconnectSink(chain.DAC) })
	if o.state == A2dpStartingC {
		o.bestEffort("amp off", func() error { return o.plat.Amplifier(false) })
		o.bestEffort("output rate", func() error { return o.plat.SetOutputRate(0) })
	}
	o.a2dp.chain = 0
	o.setState(Idle)
	o.release(o.gates.A2DP)
	o.fatal(err)
	o.resumeLeakthrough()
}

func (o *Orchestrator) a2dpStop() {
	if !o.state.IsA2dpStreaming() {
		o.reject("a2dp stop while not streaming")
		return
	}
	if o.lt.attached {
		o.detachLeakthrough()
	}
	var s steps
	s.do("stop a2dp chain", func() error { return o.res.Stop(o.a2dp.chain) })
	s.do("destroy a2dp chain", func() error { return o.res.Destroy(o.a2dp.chain) })
	s.do("disconnect a2dp source", func() error { return o.res.DisconnectSource(chain.A2DPIn) })
	s.do("disconnect dac", func() error { return o.res.DisconnectSink(chain.DAC) })
	s.do("amp off", func() error { return o.plat.Amplifier(false) })
	s.do("output rate", func() error { return o.plat.SetOutputRate(0) })
	if s.err != nil {
		o.fatal(s.err)
		return
	}
	o.a2dp.chain = 0
	o.a2dp.aec = chain.Operator{}
	o.setState(Idle)
	o.resumeLeakthrough()
}
