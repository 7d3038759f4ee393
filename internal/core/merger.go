package core

// MergeSetlists interleaves the candidates round-robin into a single setlist.
//
// Position i of every candidate is visited, in candidate order, before position i+1
// of any. An entry is emitted only the first time its exact name is seen. The
// result carries the metadata of the first candidate.
func MergeSetlists(candidates []Setlist) Setlist {
	return MergeLimit(candidates, 0)
}

// MergeLimit is MergeSetlists truncated to the first limit entries. A limit of 0 means no limit.
func MergeLimit(candidates []Setlist, limit int) Setlist {
	if len(candidates) == 0 {
		return Setlist{}
	}

	lists := make([][]SetlistEntry, len(candidates))
	longest := 0
	for i := range candidates {
		lists[i] = candidates[i].ResolvableEntries()
		if len(lists[i]) > longest {
			longest = len(lists[i])
		}
	}

	seen := make(map[string]struct{})
	var merged []SetlistEntry

merge:
	for pos := 0; pos < longest; pos++ {
		for _, entries := range lists {
			if pos >= len(entries) {
				continue
			}
			entry := entries[pos]
			if _, dup := seen[entry.Name]; dup {
				continue
			}
			seen[entry.Name] = struct{}{}
			merged = append(merged, entry)
			if limit > 0 && len(merged) >= limit {
				break merge
			}
		}
	}

	first := candidates[0]
	return Setlist{
		ID:                   first.ID,
		EventDateISO:         first.EventDateISO,
		PerformingArtistName: first.PerformingArtistName,
		ArtistID:             first.ArtistID,
		VenueName:            first.VenueName,
		City:                 first.City,
		URL:                  first.URL,
		Segments:             []SetlistSegment{{Entries: merged}},
	}
}
