package main

import (
	"fmt"

	"github.com/openpile/pile/pile"

	"golang.org/x/exp/rand"
)

// mixtureSampler interleaves components in proportion to their effective
// (epoch-scaled) sizes. Each component carries a document budget; once a
// budget runs out the component leaves the mixture and the remaining
// weights are renormalized.
//
// Internally, maintains an Alias Table for sampling.
type mixtureSampler struct {
	components []pile.Component
	budgets    []int64 // documents left per component
	remaining  int     // components with budget left

	rng   *rand.Rand
	prob  []float64
	alias []int
	live  []int // alias table slot -> component index
}

// newMixtureSampler builds a sampler over the given components. Budgets
// are the number of documents each component contributes to the build:
// its estimated document count scaled by its epochs, which is how a
// fractional epoch turns into a partial final pass.
func newMixtureSampler(components []pile.Component, budgetFor func(pile.Component) int64, seed uint64) (*mixtureSampler, error) {
	if len(components) == 0 {
		return nil, fmt.Errorf("mixture needs at least one component")
	}
	ms := &mixtureSampler{
		components: components,
		budgets:    make([]int64, len(components)),
		rng:        rand.New(rand.NewSource(seed)),
	}
	for i, c := range components {
		b := budgetFor(c)
		if b <= 0 {
			return nil, fmt.Errorf("component %s has a zero document budget", c.Name)
		}
		ms.budgets[i] = b
		ms.remaining++
	}
	ms.rebuild()
	return ms, nil
}

// next draws the component index the next document comes from, and spends
// one document of its budget. Returns false once every budget is spent.
func (ms *mixtureSampler) next() (int, bool) {
	if ms.remaining == 0 {
		return 0, false
	}

	slot := ms.sampleSlot()
	idx := ms.live[slot]

	ms.budgets[idx]--
	if ms.budgets[idx] == 0 {
		ms.remaining--
		if ms.remaining > 0 {
			ms.rebuild()
		}
	}
	return idx, true
}

// totalBudget reports the number of documents the mixture still owes.
func (ms *mixtureSampler) totalBudget() int64 {
	var sum int64
	for _, b := range ms.budgets {
		sum += b
	}
	return sum
}

// sampleSlot draws a slot from the alias table.
func (ms *mixtureSampler) sampleSlot() int {
	n := len(ms.prob)
	if n == 1 {
		return 0
	}
	i := ms.rng.Intn(n)
	if ms.rng.Float64() < ms.prob[i] {
		return i
	}
	return ms.alias[i]
}

// rebuild reconstructs the alias table over the components that still have
// budget, weighted by effective size.
func (ms *mixtureSampler) rebuild() {
	ms.live = ms.live[:0]
	for i, b := range ms.budgets {
		if b > 0 {
			ms.live = append(ms.live, i)
		}
	}

	var (
		n       = len(ms.live)
		weights = make([]float64, n)
		sum     float64
	)
	for slot, idx := range ms.live {
		w := ms.components[idx].EffectiveSizeGiB()
		weights[slot] = w
		sum += w
	}
	for slot, w := range weights {
		weights[slot] = w / sum
	}

	// Scale the probabilities by `n` and split them into the under- and
	// overfull work lists of Vose's alias method.
	var (
		scaled = make([]float64, n)
		small  = make([]int, 0, n)
		large  = make([]int, 0, n)
	)
	for slot, w := range weights {
		scaled[slot] = w * float64(n)
		if scaled[slot] < 1 {
			small = append(small, slot)
		} else {
			large = append(large, slot)
		}
	}

	prob := make([]float64, n)
	alias := make([]int, n)
	for len(small) > 0 && len(large) > 0 {
		s := small[len(small)-1]
		small = small[:len(small)-1]
		l := large[len(large)-1]
		large = large[:len(large)-1]

		prob[s] = scaled[s]
		alias[s] = l

		scaled[l] = scaled[l] + scaled[s] - 1
		if scaled[l] < 1 {
			small = append(small, l)
		} else {
			large = append(large, l)
		}
	}
	for _, l := range large {
		prob[l] = 1
	}
	for _, s := range small {
		prob[s] = 1
	}

	ms.prob = prob
	ms.alias = alias
}
