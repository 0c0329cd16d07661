package chain

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Sim is an in-memory Resource and Platform. Every successful call is
// appended to a journal; failures can be injected per operation name, e.g.
// "chain.create", "chain.start", "param", "amp", "anc.enable".
type Sim struct {
	mu       sync.Mutex
	next     Handle
	chains   map[Handle]*simChain
	sources  map[Endpoint]Operator
	sinks    map[Endpoint]Operator
	params   map[Operator]map[Param]int
	bundles  map[Bundle]string
	journal  []string
	failures map[string]error

	framework bool
	kick      int
	rate      int
	amp       bool
	ancOn     bool
	ancMode   uint8
	gains     map[GainPath]uint8
}

type simChain struct {
	cfg       Config
	connected bool
	started   bool
}

var (
	_ Resource = (*Sim)(nil)
	_ Platform = (*Sim)(nil)
)

// NewSim returns an empty simulator.
func NewSim() *Sim {
	return &Sim{
		chains:   make(map[Handle]*simChain),
		sources:  make(map[Endpoint]Operator),
		sinks:    make(map[Endpoint]Operator),
		params:   make(map[Operator]map[Param]int),
		bundles:  make(map[Bundle]string),
		failures: make(map[string]error),
		gains:    make(map[GainPath]uint8),
	}
}

// Fail makes every subsequent call to op return err until Heal is called.
func (s *Sim) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// Heal removes an injected failure.
func (s *Sim) Heal(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, op)
}

// do checks for an injected failure and journals the call on success.
// Callers hold s.mu.
func (s *Sim) do(op string, format string, args ...any) error {
	if err, ok := s.failures[op]; ok {
		return fmt.Errorf("chain: %s: %w", op, err)
	}
	entry := op
	if format != "" {
		entry += " " + fmt.Sprintf(format, args...)
	}
	s.journal = append(s.journal, entry)
	return nil
}

func (s *Sim) chain(h Handle) (*simChain, error) {
	c, ok := s.chains[h]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChain, h)
	}
	return c, nil
}

func (s *Sim) Create(cfg Config) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.do("chain.create", "%s", cfg.Name); err != nil {
		return 0, err
	}
	s.next++
	s.chains[s.next] = &simChain{cfg: cfg}
	return s.next, nil
}

func (s *Sim) Connect(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.chain(h)
	if err != nil {
		return err
	}
	if err := s.do("chain.connect", "%s", c.cfg.Name); err != nil {
		return err
	}
	c.connected = true
	return nil
}

func (s *Sim) Start(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.chain(h)
	if err != nil {
		return err
	}
	if err := s.do("chain.start", "%s", c.cfg.Name); err != nil {
		return err
	}
	c.started = true
	return nil
}

func (s *Sim) Stop(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.chain(h)
	if err != nil {
		return err
	}
	if err := s.do("chain.stop", "%s", c.cfg.Name); err != nil {
		return err
	}
	c.started = false
	return nil
}

// Destroy removes the chain. Stream endpoints routed to it stay routed until
// disconnected, as on hardware.
func (s *Sim) Destroy(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.chain(h)
	if err != nil {
		return err
	}
	if err := s.do("chain.destroy", "%s", c.cfg.Name); err != nil {
		return err
	}
	delete(s.chains, h)
	for op := range s.params {
		if op.Chain == h {
			delete(s.params, op)
		}
	}
	return nil
}

func (s *Sim) OperatorByRole(h Handle, role Role) (Operator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.chain(h)
	if err != nil {
		return Operator{}, err
	}
	for _, r := range c.cfg.Operators {
		if r == role {
			return Operator{Chain: h, Role: role}, nil
		}
	}
	return Operator{}, fmt.Errorf("%w: %s in %s", ErrUnknownOperator, role, c.cfg.Name)
}

func (s *Sim) SetParameter(op Operator, key Param, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.chain(op.Chain)
	if err != nil {
		return err
	}
	if err := s.do("param", "%s/%s %s=%d", c.cfg.Name, op.Role, key, value); err != nil {
		return err
	}
	m := s.params[op]
	if m == nil {
		m = make(map[Param]int)
		s.params[op] = m
	}
	m[key] = value
	return nil
}

func (s *Sim) ConnectSource(ep Endpoint, op Operator, terminal int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.chain(op.Chain)
	if err != nil {
		return err
	}
	if _, busy := s.sources[ep]; busy {
		return fmt.Errorf("%w: %s", ErrEndpointBusy, ep)
	}
	if err := s.do("ep.connect", "%s->%s/%s:%d", ep, c.cfg.Name, op.Role, terminal); err != nil {
		return err
	}
	s.sources[ep] = op
	return nil
}

func (s *Sim) ConnectSink(op Operator, terminal int, ep Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.chain(op.Chain)
	if err != nil {
		return err
	}
	if _, busy := s.sinks[ep]; busy {
		return fmt.Errorf("%w: %s", ErrEndpointBusy, ep)
	}
	if err := s.do("ep.connect", "%s/%s:%d->%s", c.cfg.Name, op.Role, terminal, ep); err != nil {
		return err
	}
	s.sinks[ep] = op
	return nil
}

func (s *Sim) DisconnectSource(ep Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[ep]; !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, ep)
	}
	if err := s.do("ep.disconnect", "%s", ep); err != nil {
		return err
	}
	delete(s.sources, ep)
	return nil
}

func (s *Sim) DisconnectSink(ep Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sinks[ep]; !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, ep)
	}
	if err := s.do("ep.disconnect", "%s", ep); err != nil {
		return err
	}
	delete(s.sinks, ep)
	return nil
}

func (s *Sim) FrameworkEnable(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.do("framework", "%s", onOff(on)); err != nil {
		return err
	}
	s.framework = on
	return nil
}

func (s *Sim) SetKickPeriod(us int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.do("kick", "%d", us); err != nil {
		return err
	}
	s.kick = us
	return nil
}

func (s *Sim) SetOutputRate(hz int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.do("rate", "%d", hz); err != nil {
		return err
	}
	s.rate = hz
	return nil
}

func (s *Sim) Amplifier(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.do("amp", "%s", onOff(on)); err != nil {
		return err
	}
	s.amp = on
	return nil
}

func (s *Sim) LoadBundle(name string) (Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.do("bundle.load", "%s", name); err != nil {
		return 0, err
	}
	b := Bundle(len(s.bundles) + 1)
	for {
		if _, used := s.bundles[b]; !used {
			break
		}
		b++
	}
	s.bundles[b] = name
	return b, nil
}

func (s *Sim) UnloadBundle(b Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.bundles[b]
	if !ok {
		return fmt.Errorf("chain: unknown bundle %d", b)
	}
	if err := s.do("bundle.unload", "%s", name); err != nil {
		return err
	}
	delete(s.bundles, b)
	return nil
}

func (s *Sim) AncEnable(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op := "anc.disable"
	if on {
		op = "anc.enable"
	}
	if err := s.do(op, ""); err != nil {
		return err
	}
	s.ancOn = on
	return nil
}

func (s *Sim) AncSetMode(mode uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.do("anc.mode", "%d", mode); err != nil {
		return err
	}
	s.ancMode = mode
	return nil
}

func (s *Sim) AncSetPathGain(path GainPath, gain uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.do("anc.gain", "%s %d", path, gain); err != nil {
		return err
	}
	s.gains[path] = gain
	return nil
}

// Journal returns a copy of the call journal.
func (s *Sim) Journal() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.journal...)
}

// ResetJournal clears the journal without touching simulated state.
func (s *Sim) ResetJournal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = nil
}

// Count returns how many journal entries start with prefix.
func (s *Sim) Count(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.journal {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

// Chains returns the names of live chains, sorted.
func (s *Sim) Chains() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.chains))
	for _, c := range s.chains {
		names = append(names, c.cfg.Name)
	}
	sort.Strings(names)
	return names
}

// Param returns the last value set for a parameter on the named chain's
// operator.
func (s *Sim) Param(chainName string, role Role, key Param) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for op, m := range s.params {
		c, ok := s.chains[op.Chain]
		if !ok || c.cfg.Name != chainName || op.Role != role {
			continue
		}
		v, ok := m[key]
		return v, ok
	}
	return 0, false
}

// SimStatus is a snapshot of the simulated platform.
type SimStatus struct {
	Framework bool              `json:"framework" yaml:"framework"`
	Kick      int               `json:"kick_us" yaml:"kick_us"`
	Rate      int               `json:"rate" yaml:"rate"`
	Amp       bool              `json:"amp" yaml:"amp"`
	AncOn     bool              `json:"anc_on" yaml:"anc_on"`
	AncMode   uint8             `json:"anc_mode" yaml:"anc_mode"`
	Gains     map[string]uint8  `json:"gains,omitempty" yaml:"gains,omitempty"`
	Chains    []string          `json:"chains" yaml:"chains"`
	Endpoints map[string]string `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`
	Bundles   []string          `json:"bundles,omitempty" yaml:"bundles,omitempty"`
}

// Status returns a snapshot of the simulated platform.
func (s *Sim) Status() SimStatus {
	chains := s.Chains()
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SimStatus{
		Framework: s.framework,
		Kick:      s.kick,
		Rate:      s.rate,
		Amp:       s.amp,
		AncOn:     s.ancOn,
		AncMode:   s.ancMode,
		Chains:    chains,
		Gains:     make(map[string]uint8, len(s.gains)),
		Endpoints: make(map[string]string, len(s.sources)+len(s.sinks)),
	}
	for p, g := range s.gains {
		st.Gains[p.String()] = g
	}
	for ep, op := range s.sources {
		st.Endpoints[string(ep)] = s.opName(op)
	}
	for ep, op := range s.sinks {
		st.Endpoints[string(ep)] = s.opName(op)
	}
	for _, name := range s.bundles {
		st.Bundles = append(st.Bundles, name)
	}
	sort.Strings(st.Bundles)
	return st
}

func (s *Sim) opName(op Operator) string {
	if c, ok := s.chains[op.Chain]; ok {
		return c.cfg.Name + "/" + string(op.Role)
	}
	return string(op.Role)
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
