package pipeline

import (
	"github.com/haivivi/twinbud/pkg/chain"
	"github.com/haivivi/twinbud/pkg/feature"
)

var scoChain = chain.Config{
	Name:      "sco",
	Operators: []chain.Role{chain.RoleSCOCodec, chain.RoleAEC, chain.RoleCVC},
}

func (o *Orchestrator) scoStart(req ScoStart) {
	switch {
	case o.state == AncTuning:
		o.reject("sco start during tuning")
		return
	case o.state != Idle && o.state != StandaloneLeakthrough:
		o.reject("sco start not idle")
		return
	}
	if req.Mode == NoSco {
		req.Mode = ScoWB
	}
	if !o.suspendLeakthrough() {
		return
	}
	o.gates.SCO.Acquire()
	defer o.release(o.gates.SCO)

	var (
		s       steps
		h       chain.Handle
		built   bool
		codec   chain.Operator
		aec     chain.Operator
		cvc     chain.Operator
		sources []chain.Endpoint
		sinks   []chain.Endpoint
		amp     bool
	)
	source := func(ep chain.Endpoint, op *chain.Operator, terminal int) func() error {
		return func() error {
			if err := o.res.ConnectSource(ep, *op, terminal); err != nil {
				return err
			}
			sources = append(sources, ep)
			return nil
		}
	}
	sink := func(op *chain.Operator, terminal int, ep chain.Endpoint) func() error {
		return func() error {
			if err := o.res.ConnectSink(*op, terminal, ep); err != nil {
				return err
			}
			sinks = append(sinks, ep)
			return nil
		}
	}

	s.do("create sco chain", func() (err error) {
		h, err = o.res.Create(scoChain)
		built = err == nil
		return err
	})
	s.do("find sco codec", func() (err error) {
		codec, err = o.res.OperatorByRole(h, chain.RoleSCOCodec)
		return err
	})
	s.do("find aec", func() (err error) {
		aec, err = o.res.OperatorByRole(h, chain.RoleAEC)
		return err
	})
	s.do("find cvc", func() (err error) {
		cvc, err = o.res.OperatorByRole(h, chain.RoleCVC)
		return err
	})
	s.do("connect sco source", source(chain.SCOIn, &codec, 0))
	s.do("connect mic", source(chain.MicLeft, &aec, 0))
	s.do("connect sco sink", sink(&cvc, 0, chain.SCOOut))
	s.do("connect dac", sink(&aec, 0, chain.DAC))
	s.do("codec rate", func() error {
		return o.res.SetParameter(codec, chain.ParamSampleRate, req.Mode.SampleRate())
	})
	s.do("connect sco chain", func() error { return o.res.Connect(h) })
	s.do("output rate", func() error { return o.plat.SetOutputRate(req.Mode.SampleRate()) })
	s.do("kick period", func() error { return o.plat.SetKickPeriod(KickPeriodDefault) })
	s.do("amp on", func() error {
		err := o.plat.Amplifier(true)
		amp = err == nil
		return err
	})
	s.do("start sco chain", func() error { return o.res.Start(h) })

	if s.err != nil {
		if amp {
			o.bestEffort("amp off", func() error { return o.plat.Amplifier(false) })
		}
		if built {
			o.bestEffort("destroy", func() error { return o.res.Destroy(h) })
		}
		for _, ep := range sources {
			o.bestEffort("disconnect source", func() error { return o.res.DisconnectSource(ep) })
		}
		for _, ep := range sinks {
			o.bestEffort("disconnect sink", func() error { return o.res.DisconnectSink(ep) })
		}
		o.fatal(s.err)
		o.resumeLeakthrough()
		return
	}

	o.sco.chain = h
	o.sco.aec = aec
	o.sco.mode = req.Mode
	switch {
	case req.Forwarding && o.role == feature.Secondary:
		o.setState(ScoSlaveActive)
	case req.Forwarding:
		o.setState(ScoActiveWithForwarding)
	default:
		o.setState(ScoActive)
	}
	if o.lt.enabled {
		o.attachLeakthrough()
	}
}

func (o *Orchestrator) scoStop() {
	if !o.state.IsSco() {
		o.reject("sco stop while not active")
		return
	}
	if o.lt.attached {
		o.detachLeakthrough()
	}
	o.gates.SCO.Acquire()
	defer o.release(o.gates.SCO)

	var s steps
	s.do("stop sco chain", func() error { return o.res.Stop(o.sco.chain) })
	s.do("destroy sco chain", func() error { return o.res.Destroy(o.sco.chain) })
	for _, ep := range []chain.Endpoint{chain.SCOIn, chain.MicLeft} {
		s.do("disconnect source", func() error { return o.res.DisconnectSource(ep) })
	}
	for _, ep := range []chain.Endpoint{chain.SCOOut, chain.DAC} {
		s.do("disconnect sink", func() error { return o.res.DisconnectSink(ep) })
	}
	s.do("amp off", func() error { return o.plat.Amplifier(false) })
	s.do("output rate", func() error { return o.plat.SetOutputRate(0) })
	if s.err != nil {
		o.fatal(s.err)
		return
	}
	o.sco.chain = 0
	o.sco.aec = chain.Operator{}
	o.sco.mode = NoSco
	o.setState(Idle)
	o.resumeLeakthrough()
}
