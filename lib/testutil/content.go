// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import "math/rand/v2"

// PseudoRandom returns n deterministic pseudo-random bytes derived
// from seed. The output does not compress, which makes it useful for
// exercising the incompressible fallback and for building files whose
// chunks never deduplicate by accident.
func PseudoRandom(seed uint64, n int) []byte {
	source := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	data := make([]byte, n)
	for i := 0; i < n; i += 8 {
		value := source.Uint64()
		for j := 0; j < 8 && i+j < n; j++ {
			data[i+j] = byte(value >> (8 * j))
		}
	}
	return data
}

// Repeated returns pattern repeated until the result is n bytes long.
// The output compresses well.
func Repeated(pattern string, n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = pattern[i%len(pattern)]
	}
	return data
}
