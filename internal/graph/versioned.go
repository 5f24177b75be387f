package graph

import (
	"fmt"
	"sort"
	"time"
)

// Versioned is implemented by every version record.
type Versioned interface {
	Locator() Locator
	CreatedAt() time.Time
	ExpiredAt() *time.Time
	IsActive() bool
}

// Entity is a version record that can copy itself, expired or not.
type Entity[T any] interface {
	Versioned
	Clone() T
	WithExpired(at time.Time) T
}

// AliveAt reports whether v was the active version at instant t,
// i.e. created <= t < expired.
func AliveAt(v Versioned, t time.Time) bool {
	if v.CreatedAt().After(t) {
		return false
	}
	exp := v.ExpiredAt()
	return exp == nil || t.Before(*exp)
}

// SortVersions orders a history by version ascending, in place.
func SortVersions[T Versioned](history []T) {
	sort.Slice(history, func(i, j int) bool {
		return history[i].Locator().Version < history[j].Locator().Version
	})
}

// FindActive returns the active version in history.
//
// When more than one version is active the highest one is returned together
// with an ErrInvariantViolation error: the history was written by a faulty
// writer and the caller must not treat the result as clean.
func FindActive[T Versioned](history []T) (T, bool, error) {
	var (
		best  T
		found bool
		count int
	)
	for _, v := range history {
		if !v.IsActive() {
			continue
		}
		count++
		if !found || v.Locator().Version > best.Locator().Version {
			best = v
			found = true
		}
	}
	if count > 1 {
		return best, true, Invariant("find active", best.Locator().ID.String(),
			fmt.Sprintf("%d versions active at once", count))
	}
	return best, found, nil
}

// FindAt returns the version alive at instant t.
// More than one match is reported like FindActive.
func FindAt[T Versioned](history []T, t time.Time) (T, bool, error) {
	var (
		best  T
		found bool
		count int
	)
	for _, v := range history {
		if !AliveAt(v, t) {
			continue
		}
		count++
		if !found || v.Locator().Version > best.Locator().Version {
			best = v
			found = true
		}
	}
	if count > 1 {
		return best, true, Invariant("find at", best.Locator().ID.String(),
			fmt.Sprintf("%d versions alive at %s", count, t.Format(time.RFC3339Nano)))
	}
	return best, found, nil
}

// ValidateHistory checks that a history sorted by version is well formed:
// versions run 1..n without gaps, only the last version may be active,
// and each version starts no earlier than its predecessor expired.
func ValidateHistory[T Versioned](history []T) error {
	for i, v := range history {
		loc := v.Locator()
		if loc.Version != i+1 {
			return Invariant("validate history", loc.String(),
				fmt.Sprintf("expected version %d", i+1))
		}
		if i > 0 && loc.ID != history[0].Locator().ID {
			return Invariant("validate history", loc.String(), "mixed ids in one history")
		}
		exp := v.ExpiredAt()
		if exp == nil && i != len(history)-1 {
			return Invariant("validate history", loc.String(), "active version is not the latest")
		}
		if exp != nil && exp.Before(v.CreatedAt()) {
			return Invariant("validate history", loc.String(), "expired before created")
		}
		if i > 0 {
			prevExp := history[i-1].ExpiredAt()
			if prevExp != nil && v.CreatedAt().Before(*prevExp) {
				return Invariant("validate history", loc.String(), "overlaps previous version")
			}
		}
	}
	return nil
}

// String returns the id as a plain string.
func (id NanoID) String() string { return string(id) }
