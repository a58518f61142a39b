package core

import (
	"fmt"
	"strconv"
	"strings"
)

// noAllocation is the sentinel a fresh backend reports for a category that
// has never been allocated into, so that the first allocation in that
// category lands exactly on its floor.
const noAllocation = -999

// Allocator is the UID/GID key-value contract. Two implementations are
// provided: an in-memory map (uidallocator_memory.go) and a
// Redis-compatible store (uidallocator_redis.go); both back the same
// derived GetUID/OverwriteUID operations below.
type Allocator interface {
	// Get returns the stored value for key, or ok=false if unset.
	Get(key string) (value int, ok bool, err error)
	// Set persists value for key unconditionally.
	Set(key string, value int) error
	// Keys returns every key currently stored that has the given prefix.
	Keys(prefix string) ([]string, error)
	// Values returns the stored value for each of keys, in the same order;
	// an unset key is reported as noAllocation.
	Values(keys []string) ([]int, error)
}

func allocationKey(category, id string) string {
	return category + "-" + id
}

// GetUID returns the UID/GID assigned to id within category, allocating a
// new one if none exists yet. Allocation within a category is monotonic:
// the newly allocated value is one greater than the maximum of every value
// already stored under that category's prefix, but never below minValue,
// so the first allocation in an empty category is minValue itself.
func GetUID(a Allocator, id, category string, minValue int) (int, error) {
	key := allocationKey(category, id)
	if existing, ok, err := a.Get(key); err != nil {
		return 0, err
	} else if ok {
		return existing, nil
	}

	next, err := nextAllocation(a, category, minValue)
	if err != nil {
		return 0, err
	}
	if err := a.Set(key, next); err != nil {
		return 0, err
	}
	return next, nil
}

// OverwriteUID unconditionally persists uid for id within category,
// bypassing allocation, used to install an IdP-asserted UID/GID before any
// allocation occurs.
func OverwriteUID(a Allocator, id, category string, uid int) error {
	return a.Set(allocationKey(category, id), uid)
}

func nextAllocation(a Allocator, category string, minValue int) (int, error) {
	prefix := category + "-"
	keys, err := a.Keys(prefix)
	if err != nil {
		return 0, fmt.Errorf("listing allocator keys for category %q: %w", category, err)
	}
	values, err := a.Values(keys)
	if err != nil {
		return 0, fmt.Errorf("reading allocator values for category %q: %w", category, err)
	}

	max := noAllocation
	for _, v := range values {
		if v > max {
			max = v
		}
	}
	if max < minValue-1 {
		max = minValue - 1
	}
	return max + 1, nil
}

// parseAllocationKey splits a "<category>-<id>" key back into its parts,
// cutting at the first "-". Categories and ids must not themselves contain
// "-" ambiguously; this mirrors the source format's own key convention.
// None of the backends in this package currently calls it.
func parseAllocationKey(key string) (category, id string, ok bool) {
	idx := strings.Index(key, "-")
	if idx < 0 {
		return "", "", false
	}
	return key[:idx], key[idx+1:], true
}

func formatUID(value int) string {
	return strconv.Itoa(value)
}

func parseUID(raw string) (int, error) {
	return strconv.Atoi(raw)
}
