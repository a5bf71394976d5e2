// Package minhash computes fixed-size MinHash signatures over word
// shingles, for estimating the Jaccard similarity of documents without
// comparing them token by token.
package minhash

import (
	"strings"

	"github.com/cespare/xxhash/v2"
)

// NumPerms is the number of hash permutations in a signature.
const NumPerms = 128

// ShingleSize is the number of consecutive words per shingle.
const ShingleSize = 5

// Signature is a MinHash signature: the minimum of each permuted hash over
// all shingles of a document.
type Signature [NumPerms]uint64

// Sign computes the signature of a document's text. Documents with fewer
// words than a single shingle are signed over their whole word sequence,
// so short documents still compare equal to themselves.
func Sign(text string) Signature {
	var sig Signature
	for i := range sig {
		sig[i] = ^uint64(0)
	}

	words := strings.Fields(strings.ToLower(text))
	update := func(shingle string) {
		h := xxhash.Sum64String(shingle)
		for i := range sig {
			// Cheap universal-ish family: mix the base hash with a
			// per-permutation odd multiplier.
			p := h * permMultipliers[i]
			if p < sig[i] {
				sig[i] = p
			}
		}
	}

	if len(words) < ShingleSize {
		if len(words) > 0 {
			update(strings.Join(words, " "))
		}
		return sig
	}
	for i := 0; i+ShingleSize <= len(words); i++ {
		update(strings.Join(words[i:i+ShingleSize], " "))
	}
	return sig
}

// Jaccard estimates the Jaccard similarity of the documents behind two
// signatures, as the fraction of signature slots that agree.
func Jaccard(a, b Signature) float64 {
	var match int
	for i := range a {
		if a[i] == b[i] {
			match++
		}
	}
	return float64(match) / float64(NumPerms)
}

// permMultipliers are odd 64-bit constants, one per permutation. They are
// fixed so signatures are stable across runs and machines.
var permMultipliers = func() [NumPerms]uint64 {
	var m [NumPerms]uint64
	// splitmix64 over a fixed seed; forced odd so multiplication is a
	// bijection on uint64.
	state := uint64(0x9e3779b97f4a7c15)
	for i := range m {
		state += 0x9e3779b97f4a7c15
		z := state
		z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
		z = (z ^ (z >> 27)) * 0x94d049bb133111eb
		z ^= z >> 31
		m[i] = z | 1
	}
	return m
}()
