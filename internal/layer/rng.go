package layer

import "math/rand"

// DefaultRNG wraps the top-level math/rand functions, which are
// auto-seeded since Go 1.20 — this is the "unseeded" RNG spec §5 requires
// for production. Tests should construct their own rand.New(rand.NewSource(seed))
// (which also satisfies RNG) for reproducible sequences.
type DefaultRNG struct{}

// Float64 returns a uniform random float64 in [0, 1).
func (DefaultRNG) Float64() float64 { return rand.Float64() }
