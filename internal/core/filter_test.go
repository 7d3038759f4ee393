package core

import (
	"reflect"
	"testing"
)

func catalogIDs(tracks []ResolvedTrack) []string {
	ids := make([]string, len(tracks))
	for i := range tracks {
		ids[i] = tracks[i].CatalogID
	}
	return ids
}

func TestComputeAutoExclusions_Duplicates(t *testing.T) {
	setlist := NewSingleSegmentSetlist("Band", "", songs("A", "B", "A", "C", "A"))
	resolved := resolvedTracks("a", "b", "a", "c", "a")

	excluded := ComputeAutoExclusions(resolved, setlist, FilterSettings{ExcludeDuplicateSongs: true})

	want := []string{"a-2", "a-4"}
	if got := excluded.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("ComputeAutoExclusions() = %v, expected %v", got, want)
	}
	if got := catalogIDs(FinalTracks(resolved, excluded)); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("FinalTracks() = %v", got)
	}
}

func TestComputeAutoExclusions(t *testing.T) {
	entries := []SetlistEntry{
		{Name: "Own"},
		{Name: "Covered", CoverOriginalArtist: "Other"},
		{Name: "Taped", IsTapePlayed: true},
		{Name: "Missing"},
	}
	setlist := NewSingleSegmentSetlist("Band", "", entries)
	resolved := resolvedTracks("own", "covered", "taped", "")
	resolved[1].PrimaryArtistName = "Other"

	tests := []struct {
		name     string
		settings FilterSettings
		want     []string
	}{
		{"Nothing enabled", FilterSettings{}, []string{}},
		{"Covers", FilterSettings{ExcludeCovers: true}, []string{"covered-1"}},
		{"Tape", FilterSettings{ExcludePlayedOnTape: true}, []string{"taped-2"}},
		{"All", FilterSettings{ExcludeCovers: true, ExcludePlayedOnTape: true, ExcludeDuplicateSongs: true}, []string{"covered-1", "taped-2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeAutoExclusions(resolved, setlist, tt.settings).Keys()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ComputeAutoExclusions() = %v, expected %v", got, tt.want)
			}
		})
	}
}

func TestComputeAutoExclusions_CoverByResolvedArtist(t *testing.T) {
	// the rule compares the matched track's artist, not the setlist annotation
	setlist := NewSingleSegmentSetlist("The Band", "", []SetlistEntry{{Name: "Hurt", CoverOriginalArtist: "NIN"}})
	resolved := resolvedTracks("hurt")
	resolved[0].PrimaryArtistName = "the band"

	if got := ComputeAutoExclusions(resolved, setlist, FilterSettings{ExcludeCovers: true}); len(got) != 0 {
		t.Errorf("expected no exclusions when the performer recorded it, got %v", got.Keys())
	}
}

func TestExclusionSet_Toggle(t *testing.T) {
	set := NewExclusionSet()

	if !set.Toggle("x", 3) {
		t.Error("first Toggle() should exclude")
	}
	if !set.Has("x-3") {
		t.Error("expected key x-3")
	}
	if set.Toggle("x", 3) {
		t.Error("second Toggle() should include again")
	}
	if len(set) != 0 {
		t.Errorf("expected empty set after double toggle, got %v", set.Keys())
	}
}

func TestFilterSession_ToggleIdempotence(t *testing.T) {
	setlist := NewSingleSegmentSetlist("Band", "", songs("A", "B", "A"))
	session := NewFilterSession(setlist, resolvedTracks("a", "b", "a"), FilterSettings{ExcludeDuplicateSongs: true})
	before := session.Effective().Keys()

	for _, idx := range []int{0, 2} {
		session.Toggle(session.resolved[idx].CatalogID, idx)
		session.Toggle(session.resolved[idx].CatalogID, idx)
	}

	if after := session.Effective().Keys(); !reflect.DeepEqual(before, after) {
		t.Errorf("double toggle changed exclusions: %v -> %v", before, after)
	}
	if len(session.overrides) != 0 {
		t.Errorf("expected no overrides, got %v", session.overrides)
	}
}

func TestFilterSession_OverridesSurviveSettingsChange(t *testing.T) {
	setlist := NewSingleSegmentSetlist("Band", "", songs("A", "B", "A", "C"))
	session := NewFilterSession(setlist, resolvedTracks("a", "b", "a", "c"), FilterSettings{ExcludeDuplicateSongs: true})

	// exclude B by hand, re-include the auto-excluded duplicate
	if !session.Toggle("b", 1) {
		t.Fatal("Toggle(b) should exclude")
	}
	if session.Toggle("a", 2) {
		t.Fatal("Toggle(a, 2) should include")
	}

	session.SetSettings(FilterSettings{ExcludeDuplicateSongs: true, HideSongsNotFound: true})

	if !session.IsExcluded("b-1") {
		t.Error("manual exclusion lost after settings change")
	}
	if session.IsExcluded("a-2") {
		t.Error("manual inclusion lost after settings change")
	}

	session.SetSettings(FilterSettings{})
	if got := catalogIDs(session.FinalTracks()); !reflect.DeepEqual(got, []string{"a", "a", "c"}) {
		t.Errorf("FinalTracks() = %v", got)
	}
}

func TestFilterSession_OverrideDroppedWhenAutoAgrees(t *testing.T) {
	setlist := NewSingleSegmentSetlist("Band", "", songs("A", "A"))
	session := NewFilterSession(setlist, resolvedTracks("a", "a"), FilterSettings{})

	session.Toggle("a", 1)
	session.SetSettings(FilterSettings{ExcludeDuplicateSongs: true})

	if len(session.overrides) != 0 {
		t.Errorf("expected redundant override to be dropped, got %v", session.overrides)
	}
	session.SetSettings(FilterSettings{})
	if session.IsExcluded("a-1") {
		t.Error("a-1 should follow the auto set once its override was absorbed")
	}
}

func TestFilterSession_HideSongsNotFound(t *testing.T) {
	setlist := NewSingleSegmentSetlist("Band", "", songs("A", "Missing", "B"))
	session := NewFilterSession(setlist, resolvedTracks("a", "", "b"), FilterSettings{})

	if got := len(session.View()); got != 3 {
		t.Errorf("View() returned %d rows, expected 3", got)
	}

	session.SetSettings(FilterSettings{HideSongsNotFound: true})
	view := session.View()
	if len(view) != 2 {
		t.Fatalf("View() returned %d rows, expected 2", len(view))
	}
	if view[1].Index != 2 {
		t.Errorf("hidden rows must keep their original index, got %d", view[1].Index)
	}

	// hiding never changes what is published
	if got := catalogIDs(session.FinalTracks()); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("FinalTracks() = %v", got)
	}
}

func TestVisibleTracks(t *testing.T) {
	resolved := resolvedTracks("", "a", "", "b")

	tests := []struct {
		name     string
		settings FilterSettings
		want     []int
	}{
		{"Show all", FilterSettings{}, []int{0, 1, 2, 3}},
		{"Hide not found", FilterSettings{HideSongsNotFound: true}, []int{1, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VisibleTracks(resolved, tt.settings); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("VisibleTracks() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFinalTracks_SkipsUnresolved(t *testing.T) {
	resolved := resolvedTracks("", "x", "")
	got := FinalTracks(resolved, NewExclusionSet())
	if !reflect.DeepEqual(catalogIDs(got), []string{"x"}) {
		t.Errorf("FinalTracks() = %v", catalogIDs(got))
	}
}
