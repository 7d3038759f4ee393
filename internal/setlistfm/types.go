package setlistfm

import (
	"fmt"
	"time"

	"setlistify/internal/core"
)

const (
	apiDateLayout = "02-01-2006"
	isoDateLayout = "2006-01-02"
)

type artistSearchResponse struct {
	Artist       []artistDTO `json:"artist"`
	Total        int         `json:"total"`
	Page         int         `json:"page"`
	ItemsPerPage int         `json:"itemsPerPage"`
}

type artistDTO struct {
	MBID           string `json:"mbid"`
	Name           string `json:"name"`
	SortName       string `json:"sortName"`
	Disambiguation string `json:"disambiguation"`
}

type setlistsResponse struct {
	Setlist      []setlistDTO `json:"setlist"`
	Total        int          `json:"total"`
	Page         int          `json:"page"`
	ItemsPerPage int          `json:"itemsPerPage"`
}

type setlistDTO struct {
	ID        string    `json:"id"`
	EventDate string    `json:"eventDate"`
	Artist    artistDTO `json:"artist"`
	Venue     struct {
		Name string `json:"name"`
		City struct {
			Name string `json:"name"`
		} `json:"city"`
	} `json:"venue"`
	URL  string `json:"url"`
	Sets struct {
		Set []setDTO `json:"set"`
	} `json:"sets"`
}

type setDTO struct {
	Name   string    `json:"name"`
	Encore int       `json:"encore"`
	Song   []songDTO `json:"song"`
}

type songDTO struct {
	Name  string `json:"name"`
	Info  string `json:"info"`
	Tape  bool   `json:"tape"`
	Cover *struct {
		Name string `json:"name"`
	} `json:"cover"`
	With *struct {
		Name string `json:"name"`
	} `json:"with"`
}

func (a artistDTO) toCore() core.Artist {
	return core.Artist{ID: a.MBID, Name: a.Name, Disambiguation: a.Disambiguation}
}

func (s setlistDTO) toCore() core.Setlist {
	out := core.Setlist{
		ID:                   s.ID,
		EventDateISO:         ConvertEventDate(s.EventDate),
		PerformingArtistName: s.Artist.Name,
		ArtistID:             s.Artist.MBID,
		VenueName:            s.Venue.Name,
		City:                 s.Venue.City.Name,
		URL:                  s.URL,
	}

	for _, set := range s.Sets.Set {
		seg := core.SetlistSegment{Name: set.Name, Encore: set.Encore}
		for _, song := range set.Song {
			entry := core.SetlistEntry{
				Name:         song.Name,
				IsTapePlayed: song.Tape,
				Info:         song.Info,
			}
			if song.Cover != nil {
				entry.CoverOriginalArtist = song.Cover.Name
			}
			if song.With != nil {
				entry.GuestArtist = song.With.Name
			}
			seg.Entries = append(seg.Entries, entry)
		}
		out.Segments = append(out.Segments, seg)
	}
	return out
}

// ConvertEventDate turns a dd-MM-yyyy date into yyyy-MM-dd. Unparseable input is returned unchanged.
func ConvertEventDate(date string) string {
	t, err := time.Parse(apiDateLayout, date)
	if err != nil {
		return date
	}
	return t.Format(isoDateLayout)
}

// APIError is a non-success response from setlist.fm.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("setlist.fm returned %d: %s", e.StatusCode, e.Message)
}
