package scoring

import (
	"math/bits"
	"strings"
)

// Bitset is a fixed-width set of small integers.
type Bitset []uint64

// NewBitset returns a bitset able to hold 0..n-1.
func NewBitset(n int) Bitset {
	return make(Bitset, (n+63)/64)
}

func (b Bitset) Set(i int) {
	b[i/64] |= 1 << (uint(i) % 64)
}

func (b Bitset) Has(i int) bool {
	if i/64 >= len(b) {
		return false
	}
	return b[i/64]&(1<<(uint(i)%64)) != 0
}

// And returns the intersection as a new bitset.
func (b Bitset) And(o Bitset) Bitset {
	n := min(len(b), len(o))
	out := make(Bitset, n)
	for i := 0; i < n; i++ {
		out[i] = b[i] & o[i]
	}
	return out
}

// Count is the number of set bits.
func (b Bitset) Count() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return n
}

// Each calls fn for every set bit in ascending order.
func (b Bitset) Each(fn func(i int)) {
	for wi, w := range b {
		for w != 0 {
			tz := bits.TrailingZeros64(w)
			fn(wi*64 + tz)
			w &= w - 1
		}
	}
}

// vocab interns labels into dense indices. Labels compare case-insensitively;
// the first spelling seen is kept for display.
type vocab struct {
	index map[string]int
	names []string
}

func newVocab() *vocab {
	return &vocab{index: make(map[string]int)}
}

func normalize(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

func (v *vocab) add(label string) {
	key := normalize(label)
	if key == "" {
		return
	}
	if _, ok := v.index[key]; ok {
		return
	}
	v.index[key] = len(v.names)
	v.names = append(v.names, strings.TrimSpace(label))
}

func (v *vocab) lookup(label string) (int, bool) {
	i, ok := v.index[normalize(label)]
	return i, ok
}

func (v *vocab) set(labels []string) Bitset {
	b := NewBitset(len(v.names))
	for _, l := range labels {
		if i, ok := v.lookup(l); ok {
			b.Set(i)
		}
	}
	return b
}

func (v *vocab) labels(b Bitset) []string {
	var out []string
	b.Each(func(i int) { out = append(out, v.names[i]) })
	return out
}
