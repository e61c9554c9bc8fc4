package resources

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Capability is a named resource-demand vector.
type Capability struct {
	Name         string
	Requirements Quantities
}

// NewCapability copies reqs into a new Capability.
func NewCapability(name string, reqs Quantities) Capability {
	return Capability{Name: name, Requirements: reqs.Clone()}
}

// Validate rejects empty names and negative demand.
func (c Capability) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("capability name is empty")
	}
	if neg := c.Requirements.Negative(); len(neg) > 0 {
		return fmt.Errorf("capability %q: negative requirement for %v", c.Name, neg)
	}
	return nil
}

// key is the canonical identity. Name and kinds are quoted so that no
// name can spell out another member's key.
func (c Capability) key() string {
	var b strings.Builder
	b.WriteString(strconv.Quote(c.Name))
	for _, k := range c.Requirements.Kinds() {
		fmt.Fprintf(&b, " %q=%d", k, c.Requirements[k])
	}
	return b.String()
}

func (c Capability) String() string {
	return c.Name
}

// MarshalJSON renders the capability as {"name":..,"requirements":{..}}.
func (c Capability) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name         string     `json:"name"`
		Requirements Quantities `json:"requirements"`
	}{c.Name, c.Requirements})
}

// CapabilitySet is an unordered, duplicate-free collection of capabilities.
// Members are kept sorted by canonical key so that equality and Key do not
// depend on construction order.
type CapabilitySet struct {
	caps []Capability
	key  string
}

// NewCapabilitySet builds a set from caps. Duplicates are collapsed.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	sorted := make([]Capability, 0, len(caps))
	for _, c := range caps {
		sorted = append(sorted, NewCapability(c.Name, c.Requirements))
	}
	slices.SortFunc(sorted, func(a, b Capability) int {
		return strings.Compare(a.key(), b.key())
	})
	sorted = slices.CompactFunc(sorted, func(a, b Capability) bool {
		return a.key() == b.key()
	})

	keys := make([]string, len(sorted))
	for i, c := range sorted {
		keys[i] = c.key()
	}
	return CapabilitySet{caps: sorted, key: strings.Join(keys, "|")}
}

// Key is a canonical string usable as a map key.
func (s CapabilitySet) Key() string { return s.key }

// Equal reports set equality.
func (s CapabilitySet) Equal(o CapabilitySet) bool { return s.key == o.key }

// Len returns the number of distinct capabilities.
func (s CapabilitySet) Len() int { return len(s.caps) }

// IsEmpty reports whether the set holds no capability.
func (s CapabilitySet) IsEmpty() bool { return len(s.caps) == 0 }

// Contains reports whether c is a member.
func (s CapabilitySet) Contains(c Capability) bool {
	k := c.key()
	for _, m := range s.caps {
		if m.key() == k {
			return true
		}
	}
	return false
}

// Capabilities returns a copy of the members in canonical order.
func (s CapabilitySet) Capabilities() []Capability {
	return slices.Clone(s.caps)
}

// Names returns member names in canonical order.
func (s CapabilitySet) Names() []string {
	names := make([]string, len(s.caps))
	for i, c := range s.caps {
		names[i] = c.Name
	}
	return names
}

// Requirements is the summed demand of all members.
func (s CapabilitySet) Requirements() Quantities {
	total := Quantities{}
	for _, c := range s.caps {
		total = total.Add(c.Requirements)
	}
	return total
}

// String renders member names, e.g. "{bigfile_handling, file_uploader}".
func (s CapabilitySet) String() string {
	return "{" + strings.Join(s.Names(), ", ") + "}"
}

// MarshalJSON encodes the set as its member names.
func (s CapabilitySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Names())
}
