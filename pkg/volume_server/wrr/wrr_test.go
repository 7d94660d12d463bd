package wrr

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type node struct {
	name   string
	weight int
}

func (n node) Weight() int { return n.weight }

func names(t *testing.T, p Picker[node], calls int) []string {
	t.Helper()
	out := make([]string, 0, calls)
	for i := 0; i < calls; i++ {
		n, err := p.Next()
		require.NoError(t, err)
		out = append(out, n.name)
	}
	return out
}

func TestInterleavedTrace(t *testing.T) {
	s := NewInterleaved([]node{{"A", 5}, {"B", 1}, {"C", 1}})

	assert.Equal(t,
		[]string{"A", "A", "A", "A", "A", "B", "C", "A", "A", "A", "A", "A", "B", "C"},
		names(t, s, 14))
}

func TestInterleavedGCD(t *testing.T) {
	s := NewInterleaved([]node{{"A", 4}, {"B", 2}})

	assert.Equal(t, []string{"A", "A", "B", "A", "A", "B"}, names(t, s, 6))
}

func TestWindowCounts(t *testing.T) {
	pickers := map[string]Picker[node]{
		"interleaved": NewInterleaved([]node{{"A", 5}, {"B", 1}, {"C", 1}}),
		"smooth":      NewSmooth([]node{{"A", 5}, {"B", 1}, {"C", 1}}),
	}

	for name, p := range pickers {
		t.Run(name, func(t *testing.T) {
			seq := names(t, p, 70)
			for start := 0; start+7 <= len(seq); start++ {
				counts := map[string]int{}
				for _, n := range seq[start : start+7] {
					counts[n]++
				}
				assert.Equal(t, map[string]int{"A": 5, "B": 1, "C": 1}, counts, "window at %d", start)
			}
		})
	}
}

func TestSmoothTrace(t *testing.T) {
	s := NewSmooth([]node{{"A", 5}, {"B", 1}, {"C", 1}})

	assert.Equal(t, []string{"A", "A", "B", "A", "C", "A", "A"}, names(t, s, 7))
}

func TestExhaustion(t *testing.T) {
	tests := []struct {
		name       string
		candidates []node
		want       error
	}{
		{"empty", nil, ErrNoCandidates},
		{"all zero", []node{{"A", 0}, {"B", 0}}, ErrNoEligible},
		{"negative", []node{{"A", -3}}, ErrNoEligible},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, p := range []Picker[node]{NewInterleaved(tt.candidates), NewSmooth(tt.candidates)} {
				for i := 0; i < 5; i++ {
					_, err := p.Next()
					assert.ErrorIs(t, err, tt.want)
					assert.ErrorIs(t, err, ErrNoCandidates)
				}
			}
		})
	}
}

func TestZeroWeightNeverSelected(t *testing.T) {
	candidates := []node{{"A", 0}, {"B", 2}, {"C", 0}, {"D", 1}}

	for _, p := range []Picker[node]{NewInterleaved(candidates), NewSmooth(candidates)} {
		for _, n := range names(t, p, 30) {
			assert.NotEqual(t, "A", n)
			assert.NotEqual(t, "C", n)
		}
	}
}

func TestWeightsSampledAtConstruction(t *testing.T) {
	candidates := []node{{"A", 1}, {"B", 1}}
	s := NewInterleaved(candidates)
	candidates[0].weight = 100

	assert.Equal(t, []string{"A", "B", "A", "B"}, names(t, s, 4))
	assert.Equal(t, 1, s.Candidates()[0].Weight())
}

func TestConcurrentNextKeepsProportions(t *testing.T) {
	s := NewInterleaved([]node{{"A", 5}, {"B", 1}, {"C", 1}})

	const workers, perWorker = 20, 70
	var (
		mu     sync.Mutex
		counts = map[string]int{}
		wg     sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := map[string]int{}
			for j := 0; j < perWorker; j++ {
				n, err := s.Next()
				if err != nil {
					t.Error(err)
					return
				}
				local[n.name]++
			}
			mu.Lock()
			for k, v := range local {
				counts[k] += v
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	total := workers * perWorker
	assert.Equal(t, total*5/7, counts["A"])
	assert.Equal(t, total/7, counts["B"])
	assert.Equal(t, total/7, counts["C"])
}
