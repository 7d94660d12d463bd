// Package wrr implements weighted round robin schedulers over any set of
// candidates that report a weight.
package wrr

import (
	"errors"
	"fmt"
	"sync"
)

var ErrNoCandidates = errors.New("wrr: no candidates")

// ErrNoEligible also matches ErrNoCandidates.
var ErrNoEligible = fmt.Errorf("%w: none has a positive weight", ErrNoCandidates)

// Weighted is anything a selector can schedule. Negative weights count as 0.
type Weighted interface {
	Weight() int
}

// Picker hands out candidates one scheduling step at a time.
type Picker[T Weighted] interface {
	Next() (T, error)
	Len() int
	Candidates() []T
}

// Interleaved is the interleaved weighted round robin used by LVS. Weights
// are sampled once, at construction; rebuild the selector to pick up changes.
//
// Over any window of total/gcd consecutive calls every candidate is returned
// weight/gcd times.
type Interleaved[T Weighted] struct {
	mu sync.Mutex

	candidates []T
	weights    []int

	currentWeight int
	maxWeight     int
	gcdWeight     int
	currentIndex  int
}

func NewInterleaved[T Weighted](candidates []T) *Interleaved[T] {
	c, weights := snapshot(candidates)

	var maxWeight, gcdWeight int
	for _, w := range weights {
		if w > maxWeight {
			maxWeight = w
		}
		gcdWeight = gcd(gcdWeight, w)
	}

	return &Interleaved[T]{
		candidates:   c,
		weights:      weights,
		maxWeight:    maxWeight,
		gcdWeight:    gcdWeight,
		currentIndex: -1,
	}
}

func (s *Interleaved[T]) Next() (T, error) {
	var zero T

	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.candidates)
	if n == 0 {
		return zero, ErrNoCandidates
	}
	if s.maxWeight == 0 {
		return zero, ErrNoEligible
	}

	// Terminates: currentWeight is always in [1, maxWeight] once reset, and the
	// heaviest candidate satisfies it within one full lap.
	for {
		s.currentIndex = (s.currentIndex + 1) % n
		if s.currentIndex == 0 {
			s.currentWeight -= s.gcdWeight
			if s.currentWeight <= 0 {
				s.currentWeight = s.maxWeight
			}
		}
		if s.weights[s.currentIndex] >= s.currentWeight {
			return s.candidates[s.currentIndex], nil
		}
	}
}

func (s *Interleaved[T]) Len() int {
	return len(s.candidates)
}

func (s *Interleaved[T]) Candidates() []T {
	out := make([]T, len(s.candidates))
	copy(out, s.candidates)
	return out
}

// Smooth is nginx's smooth weighted round robin: heavy candidates are spread
// through the cycle instead of being served in bursts.
type Smooth[T Weighted] struct {
	mu sync.Mutex

	candidates []T
	weights    []int
	current    []int
	total      int
}

func NewSmooth[T Weighted](candidates []T) *Smooth[T] {
	c, weights := snapshot(candidates)

	total := 0
	for _, w := range weights {
		total += w
	}

	return &Smooth[T]{
		candidates: c,
		weights:    weights,
		current:    make([]int, len(c)),
		total:      total,
	}
}

func (s *Smooth[T]) Next() (T, error) {
	var zero T

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.candidates) == 0 {
		return zero, ErrNoCandidates
	}
	if s.total == 0 {
		return zero, ErrNoEligible
	}

	best := -1
	for i, w := range s.weights {
		if w == 0 {
			continue
		}
		s.current[i] += w
		if best == -1 || s.current[i] > s.current[best] {
			best = i
		}
	}
	s.current[best] -= s.total

	return s.candidates[best], nil
}

func (s *Smooth[T]) Len() int {
	return len(s.candidates)
}

func (s *Smooth[T]) Candidates() []T {
	out := make([]T, len(s.candidates))
	copy(out, s.candidates)
	return out
}

func snapshot[T Weighted](candidates []T) ([]T, []int) {
	c := make([]T, len(candidates))
	copy(c, candidates)

	weights := make([]int, len(c))
	for i, cand := range c {
		if w := cand.Weight(); w > 0 {
			weights[i] = w
		}
	}
	return c, weights
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
