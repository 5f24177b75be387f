package graph

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// NanoID identifies one logical item across its whole version history.
// It is opaque and never reused.
type NanoID string

// NewNanoID generates a fresh NanoID using the default nanoid alphabet,
// which contains neither '@' nor ':'.
func NewNanoID() NanoID {
	return NanoID(gonanoid.Must())
}

// Locator identifies one specific version of an item.
// Versions start at 1 and increase by exactly one per new version.
type Locator struct {
	ID      NanoID `json:"id"`
	Version int    `json:"version"`
}

// FirstVersion returns the locator of version 1 of id.
func FirstVersion(id NanoID) Locator {
	return Locator{ID: id, Version: 1}
}

// Next returns the locator of the version that follows l.
func (l Locator) Next() Locator {
	return Locator{ID: l.ID, Version: l.Version + 1}
}

// IsZero reports whether l is the zero locator.
func (l Locator) IsZero() bool {
	return l.ID == "" && l.Version == 0
}

// String formats the locator as id@version.
func (l Locator) String() string {
	return string(l.ID) + "@" + strconv.Itoa(l.Version)
}

// Less orders locators by id, then version.
func (l Locator) Less(other Locator) bool {
	if l.ID != other.ID {
		return l.ID < other.ID
	}
	return l.Version < other.Version
}

// ParseLocator parses the id@version form produced by String.
func ParseLocator(s string) (Locator, error) {
	at := strings.LastIndexByte(s, '@')
	if at <= 0 || at == len(s)-1 {
		return Locator{}, Validation("parse locator", s, "expected id@version")
	}
	version, err := strconv.Atoi(s[at+1:])
	if err != nil || version < 1 {
		return Locator{}, Validation("parse locator", s, fmt.Sprintf("invalid version %q", s[at+1:]))
	}
	return Locator{ID: NanoID(s[:at]), Version: version}, nil
}

// LocatorSet is an ordered, duplicate-free set of component locators.
// Methods never modify the receiver; they return a new set.
type LocatorSet []Locator

// NewLocatorSet builds a set from the given locators.
func NewLocatorSet(locs ...Locator) LocatorSet {
	if len(locs) == 0 {
		return nil
	}
	seen := make(map[Locator]struct{}, len(locs))
	set := make(LocatorSet, 0, len(locs))
	for _, l := range locs {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		set = append(set, l)
	}
	sort.Slice(set, func(i, j int) bool { return set[i].Less(set[j]) })
	return set
}

// Contains reports whether l is in the set.
func (s LocatorSet) Contains(l Locator) bool {
	i := sort.Search(len(s), func(i int) bool { return !s[i].Less(l) })
	return i < len(s) && s[i] == l
}

// With returns a set that also contains l.
func (s LocatorSet) With(l Locator) LocatorSet {
	if s.Contains(l) {
		return s.Clone()
	}
	return NewLocatorSet(append(s.Clone(), l)...)
}

// Without returns a set that does not contain l.
func (s LocatorSet) Without(l Locator) LocatorSet {
	out := make(LocatorSet, 0, len(s))
	for _, x := range s {
		if x != l {
			out = append(out, x)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Replace swaps old for replacement. If old is absent the set is unchanged.
func (s LocatorSet) Replace(old, replacement Locator) LocatorSet {
	if !s.Contains(old) {
		return s.Clone()
	}
	return s.Without(old).With(replacement)
}

// Clone returns a copy of the set.
func (s LocatorSet) Clone() LocatorSet {
	if s == nil {
		return nil
	}
	out := make(LocatorSet, len(s))
	copy(out, s)
	return out
}

// Equal reports whether both sets hold the same locators.
func (s LocatorSet) Equal(other LocatorSet) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Strings renders every locator with String.
func (s LocatorSet) Strings() []string {
	out := make([]string, len(s))
	for i, l := range s {
		out[i] = l.String()
	}
	return out
}
