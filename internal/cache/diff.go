package cache

import (
	"encoding/json"
	"maps"
	"sort"

	"github.com/yairfalse/instantiate/pkg/resource"
)

// computeDiff compares two listings of one provider keyed by resource.Key.
// Diffs are ordered by key so logs are stable.
func computeDiff(previous, current map[string]resource.Resource) []resource.ResourceChange {
	keys := make([]string, 0, len(previous)+len(current))
	for k := range previous {
		keys = append(keys, k)
	}
	for k := range current {
		if _, ok := previous[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	diffs := make([]resource.ResourceChange, 0)
	for _, key := range keys {
		prev, hadPrev := previous[key]
		curr, hasCurr := current[key]
		switch {
		case !hadPrev:
			diffs = append(diffs, resource.ResourceChange{Kind: resource.Appeared, Resource: curr})
		case !hasCurr:
			prevCopy := prev
			diffs = append(diffs, resource.ResourceChange{Kind: resource.Vanished, Resource: prev, Previous: &prevCopy})
		default:
			if changes := detectChanges(prev, curr); len(changes) > 0 {
				prevCopy := prev
				diffs = append(diffs, resource.ResourceChange{
					Kind:     resource.Updated,
					Resource: curr,
					Previous: &prevCopy,
					Fields:   changes,
				})
			}
		}
	}
	return diffs
}

// detectChanges compares the fields a vendor can change between listings.
// LastChecked moves on every refresh and is ignored.
func detectChanges(prev, curr resource.Resource) map[string]resource.FieldChange {
	changes := make(map[string]resource.FieldChange)

	if prev.Name != curr.Name {
		changes["name"] = resource.FieldChange{From: prev.Name, To: curr.Name}
	}
	if prev.Status != curr.Status {
		changes["status"] = resource.FieldChange{From: prev.Status, To: curr.Status}
	}
	if prev.URL != curr.URL {
		changes["url"] = resource.FieldChange{From: prev.URL, To: curr.URL}
	}
	if !maps.Equal(prev.Labels, curr.Labels) {
		changes["labels"] = resource.FieldChange{From: mapToJSON(prev.Labels), To: mapToJSON(curr.Labels)}
	}
	return changes
}

// mapToJSON renders a map with sorted keys.
func mapToJSON(m map[string]string) string {
	if m == nil {
		return "{}"
	}
	b, _ := json.Marshal(m)
	return string(b)
}
