/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package profile

import (
	"fmt"
	"sort"
	"strings"
)

const maxUniqueNameAttempts = 1000

// IsNameUnique reports whether name is unique (case-insensitively) among
// existing, excluding excludeId (used when validating an Update).
func IsNameUnique(existing []Base, name string, excludeId int) bool {
	lname := strings.ToLower(strings.TrimSpace(name))
	for _, b := range existing {
		if b.Id == excludeId {
			continue
		}
		if strings.ToLower(b.Name) == lname {
			return false
		}
	}
	return true
}

// EnsureUniqueName returns base if free, else base_1, base_2, ... up to 1000
// attempts, per spec.md §4.2.
func EnsureUniqueName(existing []Base, base string) (string, error) {
	if IsNameUnique(existing, base, 0) {
		return base, nil
	}
	for i := 1; i <= maxUniqueNameAttempts; i++ {
		candidate := fmt.Sprintf("%s_%d", base, i)
		if IsNameUnique(existing, candidate, 0) {
			return candidate, nil
		}
	}
	return ``, fmt.Errorf("could not find a unique name derived from %q after %d attempts", base, maxUniqueNameAttempts)
}

// GetNextAvailableId returns the lowest positive integer not currently used
// by existing, filling gaps left by deletion rather than always appending.
func GetNextAvailableId(existing []Base) int {
	used := make(map[int]bool, len(existing))
	for _, b := range existing {
		used[b.Id] = true
	}
	ids := make([]int, 0, len(used))
	for id := range used {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	next := 1
	for _, id := range ids {
		if id != next {
			break
		}
		next++
	}
	return next
}
