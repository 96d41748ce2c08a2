// Package rng provides the seed source and the deterministic sequence used
// to randomize quiz content. The sequence is a splitmix64 counter generator,
// so a stored seed reproduces the exact question sample and option order
// regardless of Go version or platform.
package rng

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
)

// NewSeed draws a 63-bit seed from the crypto source. The seed itself is
// unpredictable; everything derived from it afterwards is deterministic.
func NewSeed() (int64, error) {
	var buf [8]byte
	if _, err := crand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("read seed: %w", err)
	}
	return int64(binary.BigEndian.Uint64(buf[:]) & (1<<63 - 1)), nil
}

// Sequence is a deterministic pseudo-random sequence seeded from a session's
// stored seed. Not safe for concurrent use; each session creation owns one.
type Sequence struct {
	state uint64
}

// New returns a sequence positioned at the start of the stream for seed.
func New(seed int64) *Sequence {
	return &Sequence{state: uint64(seed)}
}

// next advances the splitmix64 counter and returns the mixed output.
func (s *Sequence) next() uint64 {
	s.state += 0x9e3779b97f4a7c15
	z := s.state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Intn returns a uniform value in [0, n). Rejection sampling keeps the
// distribution unbiased for every n.
func (s *Sequence) Intn(n int) int {
	if n <= 0 {
		panic("rng: Intn with non-positive n")
	}
	bound := uint64(n)
	limit := (-bound) % bound // == 2^64 mod n
	for {
		v := s.next()
		if v >= limit {
			return int(v % bound)
		}
	}
}

// Sample draws n distinct values from ids without replacement, in draw
// order. The input slice is not modified.
func (s *Sequence) Sample(ids []int64, n int) []int64 {
	if n > len(ids) {
		n = len(ids)
	}
	pool := make([]int64, len(ids))
	copy(pool, ids)
	out := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		j := i + s.Intn(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
		out = append(out, pool[i])
	}
	return out
}

// Shuffle permutes n elements in place via the swap callback (Fisher-Yates).
func (s *Sequence) Shuffle(n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		j := s.Intn(i + 1)
		swap(i, j)
	}
}
