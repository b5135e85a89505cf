// Package stringset is a thin wrapper around mapset for the string sets
// used by the diff computations.
package stringset

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

type Set = mapset.Set[string]

func New() Set {
	return mapset.NewSet[string]()
}

func FromItems(items ...string) Set {
	set := New()
	for _, item := range items {
		set.Add(item)
	}
	return set
}

func FromSlice(items []string) Set {
	return FromItems(items...)
}

// Sorted returns the set's items as a sorted slice, for deterministic
// iteration and log output.
func Sorted(set Set) []string {
	items := set.ToSlice()
	sort.Strings(items)
	return items
}
