package service

import (
	"math/rand"
	"sync"
)

// RewardPicker selects a reward from the configured set. The production
// picker is weighted-random; a FixedPicker exists for maintenance runs and
// tests and must only ever be installed explicitly at construction.
type RewardPicker interface {
	Pick(rewards []int64, weights []int) int64
}

// weightedPicker picks proportionally to the configured weights, or
// uniformly when no weights are configured.
type weightedPicker struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewWeightedPicker creates the production reward picker.
func NewWeightedPicker(seed int64) RewardPicker {
	return &weightedPicker{rnd: rand.New(rand.NewSource(seed))}
}

func (p *weightedPicker) Pick(rewards []int64, weights []int) int64 {
	if len(rewards) == 0 {
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(weights) != len(rewards) {
		return rewards[p.rnd.Intn(len(rewards))]
	}

	total := 0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return rewards[p.rnd.Intn(len(rewards))]
	}

	n := p.rnd.Intn(total)
	for i, w := range weights {
		n -= w
		if n < 0 {
			return rewards[i]
		}
	}
	return rewards[len(rewards)-1]
}

// FixedPicker always returns the same reward. Maintenance and test use only.
type FixedPicker struct {
	Reward int64
}

// Pick returns the fixed reward regardless of configuration.
func (p FixedPicker) Pick([]int64, []int) int64 { return p.Reward }
