package capabilities

// Grant represents a collection of capabilities granted to an extension.
type Grant []Capability

// NewGrant creates a new empty Grant.
func NewGrant() Grant {
	return make(Grant, 0)
}

// Add adds a capability to the grant if it's not already present.
func (g *Grant) Add(c Capability) {
	if g.Contains(c) {
		return
	}
	*g = append(*g, c)
}

// Contains checks if the grant contains a specific capability.
func (g Grant) Contains(c Capability) bool {
	for _, existing := range g {
		if existing.Equals(c) {
			return true
		}
	}
	return false
}

// Remove removes a capability from the grant.
func (g *Grant) Remove(c Capability) {
	for i, existing := range *g {
		if existing.Equals(c) {
			*g = append((*g)[:i], (*g)[i+1:]...)
			return
		}
	}
}

// Merge returns a new grant holding the union of g and other.
func (g Grant) Merge(other Grant) Grant {
	out := make(Grant, 0, len(g)+len(other))
	out = append(out, g...)
	for _, c := range other {
		out.Add(c)
	}
	return out
}

// HighestRisk returns the highest risk level among the granted capabilities.
func (g Grant) HighestRisk() RiskLevel {
	highest := RiskLevelLow
	for _, c := range g {
		if r := c.RiskLevel(); r > highest {
			highest = r
		}
	}
	return highest
}
