package preset

import (
	"math/rand/v2"
	"strings"
)

// AlternatePolicy decides which of several sequence-chained samples sounds.
type AlternatePolicy int

const (
	PickFirst AlternatePolicy = iota
	PickRoundRobin
	PickRandom
)

func ParseAlternatePolicy(s string) (AlternatePolicy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "first", "":
		return PickFirst, true
	case "roundrobin", "round-robin", "rr":
		return PickRoundRobin, true
	case "random":
		return PickRandom, true
	}
	return PickFirst, false
}

func (p AlternatePolicy) String() string {
	switch p {
	case PickRoundRobin:
		return "roundrobin"
	case PickRandom:
		return "random"
	default:
		return "first"
	}
}

// Picker applies an AlternatePolicy. It is not safe for concurrent use; the
// MIDI controller owns one.
type Picker struct {
	policy AlternatePolicy
	next   map[Key]int
	rng    *rand.Rand
}

func NewPicker(policy AlternatePolicy, seed uint64) *Picker {
	return &Picker{
		policy: policy,
		next:   make(map[Key]int),
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (p *Picker) Pick(key Key, list []*Asset) *Asset {
	switch len(list) {
	case 0:
		return nil
	case 1:
		return list[0]
	}
	switch p.policy {
	case PickRoundRobin:
		i := p.next[key] % len(list)
		p.next[key] = i + 1
		return list[i]
	case PickRandom:
		return list[p.rng.IntN(len(list))]
	default:
		return list[0]
	}
}

// Reset forgets round-robin positions, e.g. after a preset switch.
func (p *Picker) Reset() {
	clear(p.next)
}
