package session

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// RandSource provides random numbers for treatment assignment, grouping and valuation draws.
// This interface enables dependency injection for deterministic testing.
type RandSource interface {
	// Intn returns a random integer in [0, n). Panics if n <= 0.
	Intn(n int) int
}

// cryptoRandSource wraps crypto/rand for production use
type cryptoRandSource struct{}

func (cryptoRandSource) Intn(n int) int {
	if n <= 0 {
		panic(fmt.Sprintf("cryptoRandSource.Intn: n must be positive, got %d", n))
	}
	// rand.Int does not error when using rand.Reader
	nBig, _ := rand.Int(rand.Reader, big.NewInt(int64(n)))
	return int(nBig.Int64())
}

var defaultRandSource RandSource = cryptoRandSource{}

// between returns a random integer in [lo, hi].
func between(rng RandSource, lo, hi int) int {
	return lo + rng.Intn(hi-lo+1)
}

// shuffle permutes n elements in place using Fisher-Yates.
func shuffle(rng RandSource, n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		swap(i, rng.Intn(i+1))
	}
}
