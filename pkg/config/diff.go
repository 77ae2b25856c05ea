package config

import "sort"

// ChangeSet lists the keys that differ between two maps.
type ChangeSet struct {
	// Added are keys present only in the desired map.
	Added []string `json:"added"`

	// Changed are keys present in both maps whose value or secret flag differs.
	Changed []string `json:"changed"`

	// Removed are keys present only in the existing map.
	Removed []string `json:"removed"`

	// Unchanged counts keys with identical values.
	Unchanged int `json:"unchanged"`
}

// Empty reports whether the maps are identical.
func (c ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Changed) == 0 && len(c.Removed) == 0
}

// Diff compares existing stored values with a desired map. Keys are compared
// as given; qualify both maps first when they may mix forms.
func Diff(existing, desired Map) ChangeSet {
	cs := ChangeSet{
		Added:   []string{},
		Changed: []string{},
		Removed: []string{},
	}
	for key, want := range desired {
		have, ok := existing[key]
		switch {
		case !ok:
			cs.Added = append(cs.Added, key)
		case have.Value != want.Value || have.Secret != want.Secret:
			cs.Changed = append(cs.Changed, key)
		default:
			cs.Unchanged++
		}
	}
	for key := range existing {
		if _, ok := desired[key]; !ok {
			cs.Removed = append(cs.Removed, key)
		}
	}
	sort.Strings(cs.Added)
	sort.Strings(cs.Changed)
	sort.Strings(cs.Removed)
	return cs
}
