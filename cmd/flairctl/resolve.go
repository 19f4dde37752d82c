package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/joshp123/flairbridge/internal/accessory"
)

func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	replacer := strings.NewReplacer(" ", "_", "-", "_")
	name = replacer.Replace(name)
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	return name
}

// resolveAccessory matches input against UUIDs first, then display names.
func resolveAccessory(input string, accessories []accessory.Snapshot) (accessory.Snapshot, error) {
	for _, acc := range accessories {
		if acc.UUID == input {
			return acc, nil
		}
	}
	needle := normalizeName(input)
	var matches []accessory.Snapshot
	for _, acc := range accessories {
		if normalizeName(acc.DisplayName) == needle {
			matches = append(matches, acc)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		available := make([]string, 0, len(accessories))
		for _, acc := range accessories {
			available = append(available, acc.DisplayName)
		}
		sort.Strings(available)
		return accessory.Snapshot{}, fmt.Errorf("accessory %q not found. Available: %s", input, strings.Join(available, ", "))
	default:
		uuids := make([]string, 0, len(matches))
		for _, acc := range matches {
			uuids = append(uuids, acc.UUID)
		}
		return accessory.Snapshot{}, fmt.Errorf("accessory %q is ambiguous, use a uuid: %s", input, strings.Join(uuids, ", "))
	}
}
