package core

import (
	"sort"

	"setlistify/pkg/fuzzy"
)

// ExclusionSet holds the track keys left out of the exported playlist.
type ExclusionSet map[string]struct{}

// NewExclusionSet returns an empty set.
func NewExclusionSet() ExclusionSet {
	return make(ExclusionSet)
}

// Has reports whether key is excluded.
func (s ExclusionSet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Add inserts key. Adding a key twice is a no-op.
func (s ExclusionSet) Add(key string) {
	s[key] = struct{}{}
}

// Toggle flips membership of the track at index and returns whether it is now excluded.
func (s ExclusionSet) Toggle(catalogID string, index int) bool {
	key := TrackKey(catalogID, index)
	if s.Has(key) {
		delete(s, key)
		return false
	}
	s.Add(key)
	return true
}

// Union adds every key of other to s.
func (s ExclusionSet) Union(other ExclusionSet) {
	for key := range other {
		s.Add(key)
	}
}

// Clone returns an independent copy.
func (s ExclusionSet) Clone() ExclusionSet {
	c := make(ExclusionSet, len(s))
	c.Union(s)
	return c
}

// Keys returns the keys in sorted order.
func (s ExclusionSet) Keys() []string {
	keys := make([]string, 0, len(s))
	for key := range s {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ComputeAutoExclusions derives the exclusion set implied by settings.
// resolved must be index-aligned with setlist.ResolvableEntries(). Unresolved tracks are
// never excluded since they are never published.
func ComputeAutoExclusions(resolved []ResolvedTrack, setlist Setlist, settings FilterSettings) ExclusionSet {
	excluded := NewExclusionSet()

	if settings.ExcludeCovers {
		for i := range resolved {
			if resolved[i].Found() && !fuzzy.SameArtist(resolved[i].PrimaryArtistName, setlist.PerformingArtistName) {
				excluded.Add(TrackKey(resolved[i].CatalogID, i))
			}
		}
	}

	if settings.ExcludeDuplicateSongs {
		seen := make(map[string]struct{}, len(resolved))
		for i := range resolved {
			if !resolved[i].Found() {
				continue
			}
			if _, dup := seen[resolved[i].CatalogID]; dup {
				excluded.Add(TrackKey(resolved[i].CatalogID, i))
				continue
			}
			seen[resolved[i].CatalogID] = struct{}{}
		}
	}

	if settings.ExcludePlayedOnTape {
		for i, entry := range setlist.ResolvableEntries() {
			if i >= len(resolved) {
				break
			}
			if entry.IsTapePlayed && resolved[i].Found() {
				excluded.Add(TrackKey(resolved[i].CatalogID, i))
			}
		}
	}

	return excluded
}

// FinalTracks returns the resolved, non-excluded tracks in setlist order.
func FinalTracks(resolved []ResolvedTrack, excluded ExclusionSet) []ResolvedTrack {
	var tracks []ResolvedTrack
	for i := range resolved {
		if !resolved[i].Found() || excluded.Has(TrackKey(resolved[i].CatalogID, i)) {
			continue
		}
		tracks = append(tracks, resolved[i])
	}
	return tracks
}

// TrackView is one row of the review list.
type TrackView struct {
	Index    int           `json:"index"`
	Key      string        `json:"key"`
	Track    ResolvedTrack `json:"track"`
	Excluded bool          `json:"excluded"`
}

// FilterSession is the single-writer exclusion state of one editing session.
//
// Manual toggles are kept as overrides of the auto-computed set. Changing the
// settings recomputes only the auto portion; overrides survive and still apply.
type FilterSession struct {
	setlist   Setlist
	resolved  []ResolvedTrack
	settings  FilterSettings
	auto      ExclusionSet
	overrides map[string]bool
}

// NewFilterSession computes the initial auto exclusions for resolved.
func NewFilterSession(setlist Setlist, resolved []ResolvedTrack, settings FilterSettings) *FilterSession {
	return &FilterSession{
		setlist:   setlist,
		resolved:  resolved,
		settings:  settings,
		auto:      ComputeAutoExclusions(resolved, setlist, settings),
		overrides: make(map[string]bool),
	}
}

// Settings returns the settings the auto exclusions were computed from.
func (s *FilterSession) Settings() FilterSettings {
	return s.settings
}

// SetSettings recomputes the auto exclusions when the settings changed.
func (s *FilterSession) SetSettings(settings FilterSettings) {
	if settings == s.settings {
		return
	}
	s.settings = settings
	s.auto = ComputeAutoExclusions(s.resolved, s.setlist, settings)

	// drop overrides that now agree with the auto set
	for key, excluded := range s.overrides {
		if excluded == s.auto.Has(key) {
			delete(s.overrides, key)
		}
	}
}

// IsExcluded reports whether the keyed track is currently excluded.
func (s *FilterSession) IsExcluded(key string) bool {
	if excluded, ok := s.overrides[key]; ok {
		return excluded
	}
	return s.auto.Has(key)
}

// Toggle flips the track at index and returns whether it is now excluded.
func (s *FilterSession) Toggle(catalogID string, index int) bool {
	key := TrackKey(catalogID, index)
	excluded := !s.IsExcluded(key)
	if excluded == s.auto.Has(key) {
		delete(s.overrides, key)
	} else {
		s.overrides[key] = excluded
	}
	return excluded
}

// Effective returns the auto set with manual overrides applied.
func (s *FilterSession) Effective() ExclusionSet {
	effective := s.auto.Clone()
	for key, excluded := range s.overrides {
		if excluded {
			effective.Add(key)
		} else {
			delete(effective, key)
		}
	}
	return effective
}

// FinalTracks returns what would be published right now.
func (s *FilterSession) FinalTracks() []ResolvedTrack {
	return FinalTracks(s.resolved, s.Effective())
}

// VisibleTracks returns the indices of resolved shown in the review list.
// Hiding is display only; hidden tracks are never excluded by it.
func VisibleTracks(resolved []ResolvedTrack, settings FilterSettings) []int {
	visible := make([]int, 0, len(resolved))
	for i := range resolved {
		if settings.HideSongsNotFound && !resolved[i].Found() {
			continue
		}
		visible = append(visible, i)
	}
	return visible
}

// View returns the review rows, hiding unresolved tracks when the settings ask for it.
func (s *FilterSession) View() []TrackView {
	visible := VisibleTracks(s.resolved, s.settings)
	views := make([]TrackView, 0, len(visible))
	for _, i := range visible {
		key := TrackKey(s.resolved[i].CatalogID, i)
		views = append(views, TrackView{
			Index:    i,
			Key:      key,
			Track:    s.resolved[i],
			Excluded: s.resolved[i].Found() && s.IsExcluded(key),
		})
	}
	return views
}
