package client

import "fmt"

// deviceLabels builds unique display labels for devices. Duplicate names
// get their host API appended, then a counter if still ambiguous.
func deviceLabels(names, hosts []string) []string {
	nameCounts := make(map[string]int)
	for _, name := range names {
		nameCounts[name]++
	}

	usedLabels := make(map[string]int)
	labels := make([]string, len(names))
	for i, name := range names {
		label := name
		if nameCounts[name] > 1 && i < len(hosts) && hosts[i] != "" {
			label = fmt.Sprintf("%s (%s)", name, hosts[i])
		}
		if count := usedLabels[label]; count > 0 {
			label = fmt.Sprintf("%s #%d", label, count+1)
		}
		usedLabels[label]++
		labels[i] = label
	}
	return labels
}
