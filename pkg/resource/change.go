package resource

import "sort"

// ChangeKind classifies how a resource moved between two listings.
type ChangeKind string

const (
	Appeared ChangeKind = "appeared"
	Vanished ChangeKind = "vanished"
	Updated  ChangeKind = "updated"
)

// FieldChange is one field's before and after value.
type FieldChange struct {
	From string
	To   string
}

// ResourceChange is a single resource difference between two listings of
// the same provider. Previous is nil for Appeared.
type ResourceChange struct {
	Kind     ChangeKind
	Resource Resource
	Previous *Resource
	Fields   map[string]FieldChange
}

// FieldNames returns the changed field names in order.
func (c ResourceChange) FieldNames() []string {
	names := make([]string, 0, len(c.Fields))
	for name := range c.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
