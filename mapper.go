package samlauth

import "strings"

// MetadataAssignment copies one value into a named account metadata field.
type MetadataAssignment struct {
	Field string
	Value string
}

// ProfilePlan is the mapper's output: the flat set of profile assignments the
// resolver applies to a newly provisioned account. A plan performs no I/O of
// its own; empty fields mean "nothing to assign".
type ProfilePlan struct {
	FirstName string
	LastName  string

	// Group is the raw group attribute value, persisted verbatim as the
	// saml_group metadata field.
	Group string

	// Role is the role to assign: the configured default role when set,
	// otherwise the lower-cased group value.
	Role string

	// Metadata holds the custom attribute assignments in rule order. When two
	// rules target the same field the later assignment wins because the
	// resolver applies them sequentially.
	Metadata []MetadataAssignment
}

// MapAttributes projects the assertion's attributes onto a ProfilePlan per
// the configured rules. It is a pure function: same inputs, same plan, no
// store or network access. Named mappings and custom pairs always take the
// attribute's first value.
func MapAttributes(attrs Attributes, rules AttributeRules) ProfilePlan {
	var plan ProfilePlan

	if rules.FirstName != "" {
		plan.FirstName = attrs.First(rules.FirstName)
	}
	if rules.LastName != "" {
		plan.LastName = attrs.First(rules.LastName)
	}
	if rules.Group != "" {
		plan.Group = attrs.First(rules.Group)
	}

	switch {
	case rules.DefaultRole != "":
		plan.Role = rules.DefaultRole
	case plan.Group != "":
		plan.Role = strings.ToLower(plan.Group)
	}

	for _, m := range rules.Custom {
		// Pairs missing either side are skipped entirely, never stored as
		// empty-keyed metadata.
		if m.IdPAttribute == "" || m.LocalField == "" {
			continue
		}
		v := attrs.First(m.IdPAttribute)
		if v == "" {
			continue
		}
		plan.Metadata = append(plan.Metadata, MetadataAssignment{
			Field: m.LocalField,
			Value: v,
		})
	}

	return plan
}
