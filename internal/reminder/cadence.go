package reminder

import "time"

// Policy caps sends in one stage and spaces repeats.
type Policy struct {
	Max     int
	Spacing time.Duration
}

// Cadence holds one Policy per bucket stage.
type Cadence map[Stage]Policy

func DefaultCadence() Cadence {
	return Cadence{
		StageH3: {Max: 2, Spacing: 12 * time.Hour},
		StageH2: {Max: 3, Spacing: 8 * time.Hour},
		StageH1: {Max: 5, Spacing: 3 * time.Hour},
		StageH0: {Max: 8, Spacing: 30 * time.Minute},
	}
}

func (c Cadence) Policy(s Stage) (Policy, bool) {
	p, ok := c[s]
	return p, ok && p.Max > 0
}

// WithMax returns a copy with the cap for s replaced. n <= 0 keeps the current cap.
func (c Cadence) WithMax(s Stage, n int) Cadence {
	out := make(Cadence, len(c))
	for k, v := range c {
		out[k] = v
	}
	if p, ok := out[s]; ok && n > 0 {
		p.Max = n
		out[s] = p
	}
	return out
}

// Max returns the cap for s, or 0 for stages without a counter.
func (c Cadence) Max(s Stage) int { return c[s].Max }
