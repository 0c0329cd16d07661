package pipeline

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/haivivi/twinbud/pkg/chain"
	"github.com/haivivi/twinbud/pkg/feature"
	"github.com/haivivi/twinbud/pkg/sched"
)

type harness struct {
	loop   *sched.Loop
	sim    *chain.Sim
	o      *Orchestrator
	fatals []error
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		loop: sched.New(&sched.Options{Clock: sched.NewManualClock(time.Time{})}),
		sim:  chain.NewSim(),
	}
	opts := Options{
		Loop:     h.loop,
		Resource: h.sim,
		Platform: h.sim,
		AncPath:  AncPathHybrid,
		OnFatal:  func(err error) { h.fatals = append(h.fatals, err) },
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.o = New(opts)
	h.o.Init()
	return h
}

func (h *harness) submit(ev Event) {
	h.o.Submit(ev, 0)
	h.loop.RunPending()
}

func (h *harness) settle() {
	h.loop.Advance(DefaultSidetoneDelay)
}

func indexOf(journal []string, entry string) int {
	for i, e := range journal {
		if e == entry {
			return i
		}
	}
	return -1
}

// inOrder reports whether every entry appears in journal in the given order.
func inOrder(t *testing.T, journal []string, entries ...string) {
	t.Helper()
	last := -1
	for _, e := range entries {
		i := indexOf(journal[last+1:], e)
		if i < 0 {
			t.Fatalf("entry %q missing or out of order in journal:\n%s", e, strings.Join(journal, "\n"))
		}
		last += i + 1
	}
}

func ltOn(mode feature.Mode) Event {
	return Event{Feature: feature.Leakthrough, Type: FeatureOn, Mode: mode}
}

func ltOff() Event {
	return Event{Feature: feature.Leakthrough, Type: FeatureOff}
}

func TestStandaloneLeakthroughEntry(t *testing.T) {
	h := newHarness(t, nil)
	h.submit(ltOn(0))

	if h.o.State() != StandaloneLeakthrough {
		t.Fatalf("state = %v", h.o.State())
	}
	inOrder(t, h.sim.Journal(),
		"chain.create leakthrough",
		"rate 16000",
		"kick 7500",
		"param leakthrough/aec ucid=10",
		"param leakthrough/aec sidetone_gain=-9000",
		"amp on",
		"chain.start leakthrough",
	)
	if h.o.Gates().Leakthrough.Open() {
		t.Fatal("leakthrough gate should be held while the AEC settles")
	}

	h.loop.Advance(DefaultSidetoneDelay - time.Millisecond)
	if v, _ := h.sim.Param("leakthrough", chain.RoleAEC, chain.ParamSidetoneGain); v != SidetoneGainMin {
		t.Fatalf("sidetone raised early: %d", v)
	}
	h.loop.Advance(time.Millisecond)
	if v, _ := h.sim.Param("leakthrough", chain.RoleAEC, chain.ParamSidetoneGain); v != SidetoneGainDefault {
		t.Fatalf("sidetone = %d after settling, want default", v)
	}
	if !h.o.Gates().Leakthrough.Open() {
		t.Fatal("leakthrough gate still held after settling")
	}
	if len(h.fatals) != 0 {
		t.Fatalf("fatals: %v", h.fatals)
	}
}

func TestStandaloneEntryWaitsForGate(t *testing.T) {
	h := newHarness(t, nil)
	g := h.o.Gates().Leakthrough
	g.Acquire()

	h.submit(ltOn(1))
	h.loop.Advance(time.Second)
	if n := h.sim.Count("chain.create"); n != 0 {
		t.Fatalf("chain created while gate held: %d", n)
	}

	g.Release()
	h.loop.RunPending()
	if n := h.sim.Count("chain.create"); n != 1 {
		t.Fatalf("chain.create count = %d, want 1", n)
	}
	if v, _ := h.sim.Param("leakthrough", chain.RoleAEC, chain.ParamUCID); v != UCIDLeakthroughMode2 {
		t.Errorf("ucid = %d, want mode 2 profile", v)
	}
}

func TestStandaloneExit(t *testing.T) {
	h := newHarness(t, nil)
	h.submit(ltOn(0))
	h.submit(ltOff())
	if h.o.State() != StandaloneLeakthrough {
		t.Fatal("disable delivered while the AEC was settling")
	}
	h.sim.ResetJournal()
	h.settle()

	if h.o.State() != Idle {
		t.Fatalf("state = %v, want idle", h.o.State())
	}
	inOrder(t, h.sim.Journal(),
		"param leakthrough/aec sidetone_gain=-9000",
		"chain.stop leakthrough",
		"chain.destroy leakthrough",
		"ep.disconnect mic",
		"ep.disconnect dac",
		"amp off",
		"rate 0",
	)
	if got := h.sim.Chains(); len(got) != 0 {
		t.Errorf("live chains = %v", got)
	}
}

func TestSupersededEvent(t *testing.T) {
	h := newHarness(t, nil)
	h.o.Submit(ltOn(0), 10*time.Millisecond)
	h.o.Submit(ltOff(), 10*time.Millisecond)
	h.loop.Advance(time.Second)
	if n := h.sim.Count("chain.create"); n != 0 {
		t.Errorf("superseded enable created %d chains", n)
	}
	if h.o.State() != Idle {
		t.Errorf("state = %v", h.o.State())
	}
}

func TestLeakthroughSetMode(t *testing.T) {
	h := newHarness(t, nil)
	h.submit(ltOn(0))
	h.settle()
	h.submit(Event{Feature: feature.Leakthrough, Type: SetMode, Mode: 2})
	if v, _ := h.sim.Param("leakthrough", chain.RoleAEC, chain.ParamUCID); v != UCIDLeakthroughMode3 {
		t.Errorf("ucid = %d", v)
	}
	if n := h.loop.Pending(h.o.task, msgSidetoneEnable); n != 1 {
		t.Errorf("sidetone timer pending = %d, want 1", n)
	}
}

func TestAncTransitions(t *testing.T) {
	h := newHarness(t, nil)
	anc := func(typ EventType, mode feature.Mode, gain uint8) {
		h.submit(Event{Feature: feature.ANC, Type: typ, Mode: mode, Gain: gain})
	}

	anc(SetMode, 3, 0)
	anc(SetGain, 0, 10)
	if h.sim.Count("anc.") != 0 {
		t.Fatalf("mode/gain applied while off: %v", h.sim.Journal())
	}

	anc(FeatureOn, 0, 0)
	anc(FeatureOn, 0, 0)
	if n := h.sim.Count("anc.enable"); n != 1 {
		t.Fatalf("anc.enable count = %d, want 1", n)
	}
	anc(SetMode, 4, 0)
	anc(SetGain, 0, 120)
	if h.o.AncState() != AncOn {
		t.Fatalf("anc state = %v", h.o.AncState())
	}
	anc(FeatureOff, 0, 0)
	want := []string{"anc.enable", "anc.mode 4", "anc.gain ffb 120", "anc.disable"}
	if got := h.sim.Journal(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("journal = %v, want %v", got, want)
	}
}

func TestAncGainPath(t *testing.T) {
	tests := []struct {
		path AncPath
		want string
	}{
		{AncPathHybrid, "anc.gain ffb 7"},
		{AncPathFeedForward, "anc.gain ffa 7"},
		{AncPathFeedBack, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path.String(), func(t *testing.T) {
			h := newHarness(t, func(o *Options) { o.AncPath = tt.path })
			h.submit(Event{Feature: feature.ANC, Type: FeatureOn})
			h.submit(Event{Feature: feature.ANC, Type: SetGain, Gain: 7})
			got := h.sim.Count("anc.gain")
			if tt.want == "" {
				if got != 0 {
					t.Errorf("gain applied on %v", tt.path)
				}
				return
			}
			if indexOf(h.sim.Journal(), tt.want) < 0 {
				t.Errorf("journal %v missing %q", h.sim.Journal(), tt.want)
			}
		})
	}
}

func TestAncUninitialised(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.AncPath = AncPathNone })
	h.submit(Event{Feature: feature.ANC, Type: FeatureOn})
	if h.o.AncState() != AncUninitialised || h.sim.Count("anc.") != 0 {
		t.Errorf("anc state = %v, journal = %v", h.o.AncState(), h.sim.Journal())
	}
}

func TestAncTuning(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.TuningUSBBundle = true })

	h.o.RequestTuningStart(44100)
	h.loop.RunPending()
	if h.o.State() != Idle {
		t.Fatalf("tuning started at 44100: %v", h.o.State())
	}

	h.o.RequestTuningStart(TuningRate)
	h.loop.RunPending()
	if h.o.State() != AncTuning {
		t.Fatalf("state = %v", h.o.State())
	}
	st := h.sim.Status()
	if len(st.Bundles) != 2 || !st.Framework {
		t.Fatalf("status = %+v", st)
	}

	h.o.RequestA2dpStart(A2dpStart{})
	h.o.RequestScoStart(ScoStart{Mode: ScoWB})
	h.submit(ltOn(0))
	h.loop.Advance(time.Second)
	if h.o.State() != AncTuning {
		t.Fatalf("state changed during tuning: %v", h.o.State())
	}
	if n := h.sim.Count("chain.create"); n != 1 {
		t.Fatalf("chains created during tuning: %d", n)
	}

	h.o.RequestTuningStop()
	h.loop.RunPending()
	if h.o.State() != StandaloneLeakthrough {
		t.Fatalf("state = %v, want leakthrough resumed", h.o.State())
	}
	st = h.sim.Status()
	if len(st.Bundles) != 0 || st.Framework {
		t.Errorf("tuning not fully torn down: %+v", st)
	}
}

func TestTuningOnlyFromIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.submit(ltOn(0))
	h.settle()
	h.o.RequestTuningStart(TuningRate)
	h.loop.RunPending()
	if h.o.State() != StandaloneLeakthrough {
		t.Errorf("state = %v", h.o.State())
	}
}

func TestA2dpStagedStart(t *testing.T) {
	h := newHarness(t, nil)
	h.submit(ltOn(1))
	h.settle()

	h.o.RequestA2dpStart(A2dpStart{Forwarding: true})
	var seen []State
	for i := 0; i < 10 && !h.o.State().IsA2dpStreaming(); i++ {
		h.loop.Advance(time.Millisecond)
		seen = append(seen, h.o.State())
	}
	if h.o.State() != A2dpStreamingWithForwarding {
		t.Fatalf("state = %v (seen %v)", h.o.State(), seen)
	}
	if !h.o.Gates().A2DP.Open() {
		t.Error("a2dp gate held after streaming")
	}
	if !h.o.LeakthroughActive() {
		t.Fatal("leakthrough not attached to a2dp chain")
	}
	if indexOf(h.sim.Journal(), "ep.connect mic->a2dp/aec:1") < 0 {
		t.Errorf("mic not routed into a2dp aec: %v", h.sim.Journal())
	}
	if v, _ := h.sim.Param("a2dp", chain.RoleAEC, chain.ParamUCID); v != UCIDLeakthroughMode2 {
		t.Errorf("a2dp aec ucid = %d", v)
	}

	h.o.RequestA2dpStop()
	h.loop.RunPending()
	if h.o.State() != StandaloneLeakthrough {
		t.Fatalf("state after stop = %v", h.o.State())
	}
	if got := h.sim.Chains(); len(got) != 1 || got[0] != "leakthrough" {
		t.Errorf("chains = %v", got)
	}
}

func TestA2dpStagesVisible(t *testing.T) {
	var seen []State
	h := newHarness(t, func(o *Options) {
		o.Role = feature.Secondary
		o.OnTransition = func(_, to State) { seen = append(seen, to) }
	})
	h.o.RequestA2dpStart(A2dpStart{Forwarding: true})
	h.loop.RunPending()

	want := []State{A2dpStartingA, A2dpStartingB, A2dpStartingC, A2dpStreaming}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, seen[i], want[i])
		}
	}
}

func TestA2dpStartWaitsForGate(t *testing.T) {
	h := newHarness(t, nil)
	h.o.Gates().A2DP.Acquire()
	h.o.RequestA2dpStart(A2dpStart{})
	h.loop.Advance(time.Second)
	if h.o.State() != Idle {
		t.Fatalf("a2dp started while gate held: %v", h.o.State())
	}
	h.o.Gates().A2DP.Release()
	h.loop.RunPending()
	if h.o.State() != A2dpStreaming {
		t.Errorf("state = %v", h.o.State())
	}
}

func TestScoLeakthroughProfile(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Role = feature.Secondary })
	h.o.RequestScoStart(ScoStart{Mode: ScoNB, Forwarding: true})
	h.loop.RunPending()
	if h.o.State() != ScoSlaveActive {
		t.Fatalf("state = %v", h.o.State())
	}
	h.submit(ltOn(1))
	if v, _ := h.sim.Param("sco", chain.RoleAEC, chain.ParamUCID); v != UCIDNBLeakthroughMode2 {
		t.Errorf("sco ucid = %d, want NB mode 2", v)
	}
	if n := h.sim.Count("chain.create leakthrough"); n != 0 {
		t.Error("standalone chain created during sco")
	}

	h.submit(ltOff())
	if h.o.LeakthroughActive() {
		t.Error("leakthrough still attached")
	}
	h.o.RequestScoStop()
	h.loop.RunPending()
	if h.o.State() != Idle {
		t.Errorf("state = %v", h.o.State())
	}
}

func TestTone(t *testing.T) {
	h := newHarness(t, nil)
	h.submit(ltOn(0))
	h.settle()

	h.o.RequestTone(200 * time.Millisecond)
	h.loop.RunPending()
	if h.o.State() != TonePlaying {
		t.Fatalf("state = %v", h.o.State())
	}
	if h.o.Gates().Tone.Open() {
		t.Fatal("tone gate not held while playing")
	}
	h.o.RequestTone(50 * time.Millisecond)
	h.loop.Advance(200 * time.Millisecond)
	if h.o.State() != StandaloneLeakthrough {
		t.Fatalf("state after tone = %v", h.o.State())
	}
	// The second tone waits for the resumed leakthrough chain to settle.
	if n := h.sim.Count("chain.create tone"); n != 1 {
		t.Fatalf("tone chains = %d", n)
	}
	h.settle()
	if h.o.State() != TonePlaying {
		t.Fatalf("second tone not started: %v", h.o.State())
	}
	h.loop.Advance(50 * time.Millisecond)
	if h.o.State() != StandaloneLeakthrough || !h.o.Gates().Tone.Open() {
		t.Errorf("state = %v, tone gate = %d", h.o.State(), h.o.Gates().Tone.Count())
	}
}

func TestFailStop(t *testing.T) {
	h := newHarness(t, nil)
	boom := errors.New("dsp busy")
	h.sim.Fail("chain.start", boom)

	h.submit(ltOn(0))
	if h.o.State() != Idle {
		t.Fatalf("state = %v, want idle", h.o.State())
	}
	if len(h.fatals) != 1 {
		t.Fatalf("fatals = %v", h.fatals)
	}
	var hw *HardwareError
	if !errors.As(h.fatals[0], &hw) || !errors.Is(hw, boom) {
		t.Fatalf("fatal = %v", h.fatals[0])
	}
	if !h.o.Gates().Leakthrough.Open() {
		t.Error("leakthrough gate leaked")
	}
	st := h.sim.Status()
	if st.Amp || len(st.Chains) != 0 || len(st.Endpoints) != 0 {
		t.Errorf("partial graph left running: %+v", st)
	}
}

func TestStartsWaitForTone(t *testing.T) {
	tests := []struct {
		name    string
		request func(o *Orchestrator)
		chain   string
		active  func(s State) bool
	}{
		{"sco", func(o *Orchestrator) { o.RequestScoStart(ScoStart{Mode: ScoWB}) }, "chain.create sco", State.IsSco},
		{"a2dp", func(o *Orchestrator) { o.RequestA2dpStart(A2dpStart{}) }, "chain.create a2dp", State.IsA2dpStreaming},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.o.RequestTone(200 * time.Millisecond)
			h.loop.RunPending()
			tt.request(h.o)
			h.loop.RunPending()
			if h.o.State() != TonePlaying {
				t.Fatalf("state = %v, want tone still playing", h.o.State())
			}
			h.loop.Advance(time.Second)
			if !tt.active(h.o.State()) {
				t.Fatalf("state after tone = %v", h.o.State())
			}
			if n := h.sim.Count(tt.chain); n != 1 {
				t.Errorf("%s count = %d", tt.chain, n)
			}
		})
	}
}

func TestAncEventsDeferredDuringTuning(t *testing.T) {
	h := newHarness(t, nil)
	h.o.RequestTuningStart(TuningRate)
	h.loop.RunPending()
	if h.o.State() != AncTuning {
		t.Fatalf("state = %v", h.o.State())
	}

	h.submit(Event{Feature: feature.ANC, Type: FeatureOn})
	h.submit(Event{Feature: feature.ANC, Type: SetMode, Mode: 3})
	h.submit(Event{Feature: feature.ANC, Type: SetGain, Gain: 50})
	if h.o.AncState() != AncOff {
		t.Fatalf("anc = %v during tuning", h.o.AncState())
	}

	h.o.RequestTuningStop()
	h.loop.RunPending()
	snap := h.o.Snapshot()
	if snap.State != Idle || snap.Anc != AncOn || snap.AncMode != 3 || snap.AncGain != 50 {
		t.Errorf("after tuning = %+v", snap)
	}
	if len(h.fatals) != 0 {
		t.Errorf("fatals = %v", h.fatals)
	}
}

func TestFeatureFailureReportsEvent(t *testing.T) {
	tests := []struct {
		name string
		op   string
		ev   Event
	}{
		{"anc", "anc.enable", Event{Feature: feature.ANC, Type: FeatureOn}},
		{"leakthrough", "chain.start", ltOn(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.sim.Fail(tt.op, errors.New("boom"))
			h.submit(tt.ev)
			if len(h.fatals) != 1 {
				t.Fatalf("fatals = %v", h.fatals)
			}
			var hw *HardwareError
			if !errors.As(h.fatals[0], &hw) || hw.Event == nil || *hw.Event != tt.ev {
				t.Fatalf("fatal = %#v", h.fatals[0])
			}
			if h.o.FeatureState(tt.ev.Feature).Enabled {
				t.Error("feature reported enabled after failed enable")
			}

			h.sim.Heal(tt.op)
			h.submit(tt.ev)
			if !h.o.FeatureState(tt.ev.Feature).Enabled {
				t.Error("retry after heal did not enable")
			}
		})
	}
}

func TestUseCaseFailureHasNoEvent(t *testing.T) {
	h := newHarness(t, nil)
	h.sim.Fail("chain.create", errors.New("boom"))
	h.o.RequestScoStart(ScoStart{Mode: ScoWB})
	h.loop.RunPending()
	var hw *HardwareError
	if len(h.fatals) != 1 || !errors.As(h.fatals[0], &hw) || hw.Event != nil {
		t.Fatalf("fatals = %v", h.fatals)
	}
}
