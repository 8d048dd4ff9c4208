package cache

import (
	"hash/fnv"

	"github.com/cespare/xxhash/v2"
)

// Hasher maps a key to a 64-bit hash used for partition routing. The
// implementation is selected once at construction; a key maps to the same
// partition for the lifetime of the engine.
type Hasher interface {
	Sum64(key string) uint64
}

type xxHasher struct{}

func (xxHasher) Sum64(key string) uint64 {
	return xxhash.Sum64String(key)
}

// NewXXHasher returns the default xxhash-backed Hasher.
func NewXXHasher() Hasher {
	return xxHasher{}
}

type fnvHasher struct{}

func (fnvHasher) Sum64(key string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return h.Sum64()
}

// NewFNVHasher returns a stdlib FNV-1a Hasher, kept as a fallback for
// environments that pin the hash function.
func NewFNVHasher() Hasher {
	return fnvHasher{}
}
