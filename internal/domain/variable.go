package domain

// VariableSpec configures one canonical variable for scrubbing and
// statistics.
type VariableSpec struct {
	Name   string
	Label  string
	Unit   string
	IsRain bool
	Limits Limits
}

// VariableCatalog is the ordered set of configured variables.
type VariableCatalog []VariableSpec

// Lookup returns the spec for a variable name.
func (c VariableCatalog) Lookup(name string) (VariableSpec, bool) {
	for _, v := range c {
		if v.Name == name {
			return v, true
		}
	}
	return VariableSpec{}, false
}

// Limits collects the bounds of every variable with at least one side set.
func (c VariableCatalog) Limits() VariableLimits {
	out := make(VariableLimits, len(c))
	for _, v := range c {
		if v.Limits.Min != nil || v.Limits.Max != nil {
			out[v.Name] = v.Limits
		}
	}
	return out
}
