// Package lockgate provides counting gates used to serialize operations that
// mutate shared audio resources.
//
// A Gate is an integer counter. Work that must not overlap with an in-flight
// mutation is queued conditionally on the gate and delivered only once the
// counter is observed at zero. Gates are not safe for concurrent use; they are
// owned by the single message loop that drives the device.
package lockgate

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnderflow is returned by Release when the gate is already at zero.
var ErrUnderflow = errors.New("lockgate: release of unheld gate")

// Condition reports whether conditional work may proceed.
type Condition interface {
	Open() bool
}

// Gate is a named non-negative counter.
type Gate struct {
	name  string
	count int
}

// New returns a gate with the given diagnostic name.
func New(name string) *Gate {
	return &Gate{name: name}
}

// Name returns the diagnostic name.
func (g *Gate) Name() string { return g.name }

// Acquire increments the counter.
func (g *Gate) Acquire() {
	g.count++
}

// Release decrements the counter. Releasing a gate at zero leaves it at zero
// and returns ErrUnderflow.
func (g *Gate) Release() error {
	if g.count == 0 {
		return fmt.Errorf("%w: %s", ErrUnderflow, g.name)
	}
	g.count--
	return nil
}

// Set forces the counter to n. Negative values are clamped to zero.
func (g *Gate) Set(n int) {
	if n < 0 {
		n = 0
	}
	g.count = n
}

// Count returns the current counter value.
func (g *Gate) Count() int { return g.count }

// Open reports whether the counter is zero.
func (g *Gate) Open() bool { return g.count == 0 }

func (g *Gate) String() string {
	return fmt.Sprintf("%s=%d", g.name, g.count)
}

// all is a Condition that is open only when every member is open.
type all []Condition

func (a all) Open() bool {
	for _, c := range a {
		if !c.Open() {
			return false
		}
	}
	return true
}

// All returns a Condition that is open when every cond is open.
// With no arguments the condition is always open.
func All(conds ...Condition) Condition {
	if len(conds) == 1 {
		return conds[0]
	}
	return all(conds)
}

// Set holds the gates of one device, one per contended resource class.
type Set struct {
	A2DP        *Gate
	SCO         *Gate
	ANC         *Gate
	Leakthrough *Gate
	Tone        *Gate
}

// NewSet returns a Set with every gate at zero.
func NewSet() *Set {
	return &Set{
		A2DP:        New("a2dp"),
		SCO:         New("sco"),
		ANC:         New("anc"),
		Leakthrough: New("leakthrough"),
		Tone:        New("tone"),
	}
}

// Gates returns the gates in a fixed order.
func (s *Set) Gates() []*Gate {
	return []*Gate{s.A2DP, s.SCO, s.ANC, s.Leakthrough, s.Tone}
}

// Counts returns a name to count map, for diagnostics.
func (s *Set) Counts() map[string]int {
	m := make(map[string]int, 5)
	for _, g := range s.Gates() {
		m[g.name] = g.count
	}
	return m
}

func (s *Set) String() string {
	parts := make([]string, 0, 5)
	for _, g := range s.Gates() {
		parts = append(parts, g.String())
	}
	return strings.Join(parts, " ")
}
