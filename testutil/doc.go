// Package testutil provides testing utilities for the cache packages.
//
// This package is intended for use in tests and benchmarks only.
//
// # Random Workloads
//
//	rng := testutil.NewRNG(seed)
//	block := rng.Zipf(1024, 1.2) // skewed block number
//	rng.Fill(buf)                // random block contents
//
// # Deadlock Detection
//
//	testutil.Within(t, 30*time.Second, func() {
//	    // concurrent lock traffic
//	})
package testutil
