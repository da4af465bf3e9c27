package risk

import "sync"

// VenueStats tracks per-venue execution reliability. It backs the profit
// calculator's confidence score: venue combinations that have failed
// recently are trusted less.
type VenueStats struct {
	mu        sync.RWMutex
	attempts  map[string]int
	successes map[string]int
}

// NewVenueStats returns an empty tracker.
func NewVenueStats() *VenueStats {
	return &VenueStats{
		attempts:  make(map[string]int),
		successes: make(map[string]int),
	}
}

// Record adds one execution outcome for each venue involved.
func (v *VenueStats) Record(venues []string, success bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, name := range venues {
		v.attempts[name]++
		if success {
			v.successes[name]++
		}
	}
}

// Score returns the product of per-venue success rates, Laplace-smoothed so
// unseen venues start at full trust and a single failure does not zero the
// combination out.
func (v *VenueStats) Score(venues []string) float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()

	score := 1.0
	for _, name := range venues {
		n := v.attempts[name]
		score *= float64(v.successes[name]+1) / float64(n+1)
	}
	return score
}
