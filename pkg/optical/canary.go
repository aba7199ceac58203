// Copyright 2025 Certen Protocol

package optical

import (
	"hash/fnv"
	"math/rand"
)

// shouldSampleCanary decides whether itemID's optical-post is also forwarded
// to the canary sink. The seed is derived from the item id itself rather
// than drawn from the global RNG, so the same item always samples the same
// way and a test can assert on a known id without flakiness.
func shouldSampleCanary(itemID string, rate float64) bool {
	if rate <= 0 {
		return false
	}
	if rate >= 1 {
		return true
	}

	h := fnv.New64a()
	h.Write([]byte(itemID))
	seed := int64(h.Sum64())

	r := rand.New(rand.NewSource(seed))
	return r.Float64() < rate
}
