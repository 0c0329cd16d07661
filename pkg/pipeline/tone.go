package pipeline

import (
	"time"

	"github.com/haivivi/twinbud/pkg/chain"
)

var toneChain = chain.Config{
	Name:      "tone",
	Operators: []chain.Role{chain.RoleTone},
}

// toneStart plays a tone for d. From Idle the tone owns the output and the
// pipeline enters TonePlaying; during A2DP or SCO it is mixed into the
// running chain. The tone gate is held until the tone ends.
func (o *Orchestrator) toneStart(d time.Duration) {
	owns := false
	switch {
	case o.state == Idle || o.state == StandaloneLeakthrough:
		owns = true
	case o.state.IsA2dpStreaming() || o.state.IsSco():
	default:
		o.reject("tone not allowed")
		return
	}
	if owns && !o.suspendLeakthrough() {
		return
	}
	o.gates.Tone.Acquire()

	var (
		s     steps
		h     chain.Handle
		built bool
		dac   bool
		amp   bool
	)
	s.do("create tone chain", func() (err error) {
		h, err = o.res.Create(toneChain)
		built = err == nil
		return err
	})
	if owns {
		s.do("connect dac", func() error {
			op, err := o.res.OperatorByRole(h, chain.RoleTone)
			if err != nil {
				return err
			}
			err = o.res.ConnectSink(op, 0, chain.DAC)
			dac = err == nil
			return err
		})
		s.do("output rate", func() error { return o.plat.SetOutputRate(ToneRate) })
		s.do("amp on", func() error {
			err := o.plat.Amplifier(true)
			amp = err == nil
			return err
		})
	}
	s.do("connect tone chain", func() error { return o.res.Connect(h) })
	s.do("start tone chain", func() error { return o.res.Start(h) })

	if s.err != nil {
		if amp {
			o.bestEffort("amp off", func() error { return o.plat.Amplifier(false) })
		}
		if built {
			o.bestEffort("destroy", func() error { return o.res.Destroy(h) })
		}
		if dac {
			o.bestEffort("disconnect dac", func() error { return o.res.DisconnectSink(chain.DAC) })
		}
		o.release(o.gates.Tone)
		o.fatal(s.err)
		if owns {
			o.resumeLeakthrough()
		}
		return
	}

	o.tone.chain = h
	o.tone.active = true
	o.tone.owned = owns
	if owns {
		o.setState(TonePlaying)
	}
	o.loop.SendLater(o.task, msgToneEnd, nil, d)
}

func (o *Orchestrator) toneEnd() {
	if !o.tone.active {
		return
	}
	defer o.release(o.gates.Tone)

	var s steps
	s.do("stop tone chain", func() error { return o.res.Stop(o.tone.chain) })
	s.do("destroy tone chain", func() error { return o.res.Destroy(o.tone.chain) })
	if o.tone.owned {
		s.do("disconnect dac", func() error { return o.res.DisconnectSink(chain.DAC) })
		s.do("amp off", func() error { return o.plat.Amplifier(false) })
		s.do("output rate", func() error { return o.plat.SetOutputRate(0) })
	}
	o.tone.active = false
	o.tone.chain = 0
	if s.err != nil {
		o.fatal(s.err)
		return
	}
	if o.tone.owned {
		o.tone.owned = false
		o.setState(Idle)
		o.resumeLeakthrough()
	}
}
