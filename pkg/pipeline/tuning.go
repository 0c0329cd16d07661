package pipeline

import (
	"github.com/haivivi/twinbud/pkg/chain"
)

var tuningChain = chain.Config{
	Name:      "anc_tuning",
	Operators: []chain.Role{chain.RoleUSBRx, chain.RoleANCTuning, chain.RoleUSBTx},
}

// tuningStart enters AncTuning. Only legal from Idle.
func (o *Orchestrator) tuningStart(usbRate int) {
	if o.state != Idle {
		o.reject("tuning start not idle")
		return
	}
	if usbRate != TuningRate {
		o.reject("tuning usb rate unsupported", "rate", usbRate)
		return
	}

	var (
		s         steps
		h         chain.Handle
		built     bool
		framework bool
		bundles   []chain.Bundle
		usbRx     chain.Operator
		tuner     chain.Operator
		usbTx     chain.Operator
		sources   []chain.Endpoint
		sinks     []chain.Endpoint
		amp       bool
	)
	load := func(name string) func() error {
		return func() error {
			b, err := o.plat.LoadBundle(name)
			if err != nil {
				return err
			}
			bundles = append(bundles, b)
			return nil
		}
	}
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

	s.do("framework on", func() error {
		err := o.plat.FrameworkEnable(true)
		framework = err == nil
		return err
	})
	s.do("load tuning bundle", load(TuningBundle))
	if o.usbBundle {
		s.do("load usb bundle", load(USBAudioBundle))
	}
	s.do("create tuning chain", func() (err error) {
		h, err = o.res.Create(tuningChain)
		built = err == nil
		return err
	})
	s.do("find usb rx", func() (err error) {
		usbRx, err = o.res.OperatorByRole(h, chain.RoleUSBRx)
		return err
	})
	s.do("find tuner", func() (err error) {
		tuner, err = o.res.OperatorByRole(h, chain.RoleANCTuning)
		return err
	})
	s.do("find usb tx", func() (err error) {
		usbTx, err = o.res.OperatorByRole(h, chain.RoleUSBTx)
		return err
	})
	s.do("usb rx rate", func() error { return o.res.SetParameter(usbRx, chain.ParamSampleRate, usbRate) })
	s.do("usb tx rate", func() error { return o.res.SetParameter(usbTx, chain.ParamSampleRate, usbRate) })
	s.do("connect usb in", source(chain.USBIn, &usbRx, 0))
	s.do("connect mic", source(chain.MicLeft, &tuner, 0))
	s.do("connect mic ref", source(chain.MicRight, &tuner, 1))
	s.do("connect dac", sink(&tuner, 0, chain.DAC))
	s.do("connect usb out", sink(&usbTx, 0, chain.USBOut))
	s.do("connect tuning chain", func() error { return o.res.Connect(h) })
	s.do("start tuning chain", func() error { return o.res.Start(h) })
	s.do("amp on", func() error {
		err := o.plat.Amplifier(true)
		amp = err == nil
		return err
	})

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
		for _, b := range bundles {
			o.bestEffort("unload bundle", func() error { return o.plat.UnloadBundle(b) })
		}
		if framework {
			o.bestEffort("framework off", func() error { return o.plat.FrameworkEnable(false) })
		}
		o.fatal(s.err)
		return
	}

	o.tuning.chain = h
	o.tuning.bundles = bundles
	o.setState(AncTuning)
}

// tuningStop tears down the tuning chain, unloads its bundles and returns
// to Idle.
func (o *Orchestrator) tuningStop() {
	if o.state != AncTuning {
		o.reject("tuning stop while not tuning")
		return
	}
	var s steps
	s.do("stop tuning chain", func() error { return o.res.Stop(o.tuning.chain) })
	s.do("destroy tuning chain", func() error { return o.res.Destroy(o.tuning.chain) })
	for _, ep := range []chain.Endpoint{chain.USBIn, chain.MicLeft, chain.MicRight} {
		s.do("disconnect source", func() error { return o.res.DisconnectSource(ep) })
	}
	for _, ep := range []chain.Endpoint{chain.DAC, chain.USBOut} {
		s.do("disconnect sink", func() error { return o.res.DisconnectSink(ep) })
	}
	for _, b := range o.tuning.bundles {
		s.do("unload bundle", func() error { return o.plat.UnloadBundle(b) })
	}
	s.do("amp off", func() error { return o.plat.Amplifier(false) })
	s.do("framework off", func() error { return o.plat.FrameworkEnable(false) })
	if s.err != nil {
		o.fatal(s.err)
		return
	}
	o.tuning.chain = 0
	o.tuning.bundles = nil
	o.setState(Idle)
	o.resumeAnc()
	o.resumeLeakthrough()
}
