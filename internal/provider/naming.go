package provider

import (
	"strings"

	"github.com/yairfalse/instantiate/pkg/resource"
)

// MarkedName lowercases name and prefixes it with the marker unless it
// already carries it. Vendors without tags rely on this to find their
// resources again.
func MarkedName(name string) string {
	lower := strings.ToLower(name)
	if strings.Contains(lower, resource.Marker) {
		return lower
	}
	return resource.Marker + "-" + lower
}
