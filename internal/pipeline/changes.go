package pipeline

import (
	"fmt"
	"sort"

	"energy-monitor-service/internal/store"
)

// DetectChanges diffs the reported states against the previous snapshot and
// returns one line per transitioned device. The very first sample for an
// installation has no baseline, so it produces no lines.
func DetectChanges(prev *store.StateSnapshot, states map[string]string) []string {
	if prev == nil {
		return nil
	}
	old := store.DecodeStringMap(prev.DeviceStates)

	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Strings(names)

	var lines []string
	for _, name := range names {
		if old[name] != states[name] {
			lines = append(lines, fmt.Sprintf("%s turned %s", name, states[name]))
		}
	}
	return lines
}
