package core

import (
	"context"
	"fmt"
	"time"
)

// SetlistEntry is one item played at a performance.
type SetlistEntry struct {
	// Name of the song. Empty for unnamed or instrumental entries.
	Name string `json:"name"`
	// IsTapePlayed is true when the entry was played from a recording.
	IsTapePlayed bool `json:"tape,omitempty"`
	// CoverOriginalArtist names the original artist when the entry is a cover, empty otherwise.
	CoverOriginalArtist string `json:"coverArtist,omitempty"`
	// Info is a free-text annotation such as a dedication.
	Info string `json:"info,omitempty"`
	// GuestArtist is a credited guest performer, empty when there is none.
	GuestArtist string `json:"guestArtist,omitempty"`
}

// IsPlaceholder reports whether the entry is a structural "intro"/"interlude" marker.
// Placeholders are never resolved and occupy no playlist slot.
func (e SetlistEntry) IsPlaceholder() bool {
	return e.Name == "" && e.IsTapePlayed
}

// IsCover reports whether the entry was originally recorded by another artist.
func (e SetlistEntry) IsCover() bool {
	return e.CoverOriginalArtist != ""
}

// SetlistSegment is one performance segment (main set, encore, ...).
type SetlistSegment struct {
	Name    string         `json:"name,omitempty"`
	Encore  int            `json:"encore,omitempty"`
	Entries []SetlistEntry `json:"entries"`
}

// Setlist is an ordered record of what was performed at one concert, or a predicted one.
// Values are never mutated in place; transformations return new Setlists.
type Setlist struct {
	ID                   string           `json:"id,omitempty"`
	EventDateISO         string           `json:"eventDate,omitempty"`
	PerformingArtistName string           `json:"artist"`
	ArtistID             string           `json:"artistId,omitempty"`
	VenueName            string           `json:"venue,omitempty"`
	City                 string           `json:"city,omitempty"`
	URL                  string           `json:"url,omitempty"`
	Segments             []SetlistSegment `json:"segments"`
}

// Entries returns every entry of every segment in canonical song order.
func (s Setlist) Entries() []SetlistEntry {
	var entries []SetlistEntry
	for _, seg := range s.Segments {
		entries = append(entries, seg.Entries...)
	}
	return entries
}

// ResolvableEntries returns the flattened entries without placeholders.
// Its index space is the one shared by resolved tracks and exclusion keys.
func (s Setlist) ResolvableEntries() []SetlistEntry {
	var entries []SetlistEntry
	for _, seg := range s.Segments {
		for _, e := range seg.Entries {
			if !e.IsPlaceholder() {
				entries = append(entries, e)
			}
		}
	}
	return entries
}

// IsEmpty reports whether the setlist has no resolvable entries.
func (s Setlist) IsEmpty() bool {
	return len(s.ResolvableEntries()) == 0
}

// NewSingleSegmentSetlist builds a setlist holding the given entries in one segment.
func NewSingleSegmentSetlist(artist, eventDate string, entries []SetlistEntry) Setlist {
	return Setlist{
		EventDateISO:         eventDate,
		PerformingArtistName: artist,
		Segments:             []SetlistSegment{{Entries: entries}},
	}
}

// ResolutionSource records which query produced a resolved track.
type ResolutionSource int

const (
	// SourceNone marks the not-found sentinel
	SourceNone ResolutionSource = iota
	// SourcePrimary marks a match found under the performing artist
	SourcePrimary
	// SourceCoverArtist marks a match found under the original artist of a cover
	SourceCoverArtist
)

// MarshalText encodes the source by name.
func (s ResolutionSource) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s ResolutionSource) String() string {
	switch s {
	case SourcePrimary:
		return "primary"
	case SourceCoverArtist:
		return "cover_artist"
	default:
		return "none"
	}
}

// ResolvedTrack is the catalog match for one setlist entry.
// An empty CatalogID is the "not found" sentinel.
type ResolvedTrack struct {
	CatalogID         string           `json:"catalogId,omitempty"`
	DisplayName       string           `json:"displayName"`
	PrimaryArtistName string           `json:"primaryArtistName,omitempty"`
	AlbumArtURL       string           `json:"albumArtUrl,omitempty"`
	URI               string           `json:"uri,omitempty"`
	Source            ResolutionSource `json:"source"`
}

// Found reports whether the entry was matched in the catalog.
func (t ResolvedTrack) Found() bool {
	return t.CatalogID != ""
}

// NotFoundTrack returns the sentinel for an entry that has no catalog match.
func NotFoundTrack(entry SetlistEntry) ResolvedTrack {
	return ResolvedTrack{DisplayName: entry.Name, Source: SourceNone}
}

// TrackKey returns the composite exclusion key "{catalogId}-{index}".
func TrackKey(catalogID string, index int) string {
	return fmt.Sprintf("%s-%d", catalogID, index)
}

// FilterSettings are the user preferences read by the song filter.
type FilterSettings struct {
	ExcludeCovers         bool `json:"excludeCovers"`
	ExcludeDuplicateSongs bool `json:"excludeDuplicateSongs"`
	ExcludePlayedOnTape   bool `json:"excludePlayedOnTape"`
	// HideSongsNotFound only affects what is displayed, never what is published
	HideSongsNotFound bool `json:"hideSongsNotFound"`
}

// PlaylistDraft is the transient input of one publish attempt.
type PlaylistDraft struct {
	OwnerID     string
	Name        string
	Description string
	Public      bool
	CoverImage  []byte
	Tracks      []ResolvedTrack
}

// PublishStatus distinguishes full from partial success.
type PublishStatus string

const (
	// PublishFull means every step succeeded
	PublishFull PublishStatus = "full"
	// PublishPartial means the playlist exists but a later step failed
	PublishPartial PublishStatus = "partial"
)

// PublishResult is returned when at least the remote playlist was created.
type PublishResult struct {
	PlaylistID  string        `json:"playlistId"`
	PlaylistURL string        `json:"playlistUrl,omitempty"`
	Status      PublishStatus `json:"status"`
	Issue       string        `json:"issue,omitempty"`
	AddedURIs   []string      `json:"addedUris"`
}

// IsPartial reports whether the publish completed with an issue.
func (r *PublishResult) IsPartial() bool {
	return r.Status == PublishPartial
}

// StoredPlaylist is the persisted record of an exported playlist.
type StoredPlaylist struct {
	ID          string       `json:"id"`
	UserID      string       `json:"userId"`
	CatalogID   string       `json:"catalogId"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Songs       []StoredSong `json:"songs"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// StoredSong is one playlist position.
type StoredSong struct {
	CatalogSongID string `json:"catalogSongId"`
	Position      int    `json:"position"`
}

// Artist is a performer known to the concert-data source.
type Artist struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Disambiguation string `json:"disambiguation,omitempty"`
}

// CatalogTrack is one search candidate returned by the music catalog.
type CatalogTrack struct {
	ID          string
	Name        string
	URI         string
	Artists     []string
	AlbumName   string
	AlbumType   string
	AlbumArtURL string
}

// PrimaryArtist returns the first credited artist.
func (t CatalogTrack) PrimaryArtist() string {
	if len(t.Artists) == 0 {
		return ""
	}
	return t.Artists[0]
}

// RemotePlaylist identifies a playlist created at the provider.
type RemotePlaylist struct {
	ID  string
	URL string
}

// QuotaDecision is the outcome of a quota check.
type QuotaDecision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Time
}

// Catalog searches the external music catalog.
type Catalog interface {
	SearchTracks(ctx context.Context, artist, track string, limit int) ([]CatalogTrack, error)
}

// PlaylistProvider publishes playlists at the external provider.
type PlaylistProvider interface {
	CurrentUserID(ctx context.Context) (string, error)
	CreatePlaylist(ctx context.Context, ownerID, name, description string, public bool) (RemotePlaylist, error)
	AddTracks(ctx context.Context, playlistID string, uris []string) error
	SetPlaylistImage(ctx context.Context, playlistID, base64JPEG string) error
}

// ConcertSource is the external catalog of past performances.
type ConcertSource interface {
	SearchArtists(ctx context.Context, name string) ([]Artist, error)
	GetSetlistsByArtist(ctx context.Context, artistID string, maxPages int) ([]Setlist, error)
	GetSetlist(ctx context.Context, setlistID string) (*Setlist, error)
}

// SetlistPredictor predicts candidate future setlists from past ones.
// Implementations return exactly PredictionCandidates setlists ordered by descending confidence.
type SetlistPredictor interface {
	PredictSetlists(ctx context.Context, past []Setlist) ([]Setlist, error)
}

// QuotaGate decides whether a user may run a prediction today.
type QuotaGate interface {
	CheckAndConsume(ctx context.Context, userID string) (QuotaDecision, error)
}

// PlaylistStore persists exported playlists.
type PlaylistStore interface {
	SavePlaylist(ctx context.Context, playlist *StoredPlaylist) error
	GetPlaylist(ctx context.Context, id string) (*StoredPlaylist, error)
	ListPlaylists(ctx context.Context, userID string) ([]StoredPlaylist, error)
	DeletePlaylist(ctx context.Context, userID, id string) error
}

// TrackCache memoises resolutions across requests.
type TrackCache interface {
	Get(key string) (ResolvedTrack, bool)
	Add(key string, track ResolvedTrack)
}

// CoverEncoder turns a user-supplied image into a base64 JPEG within maxBytes.
type CoverEncoder interface {
	Transcode(data []byte, maxBytes int) (string, error)
}

// Metrics receives pipeline events. A nil Metrics is valid.
type Metrics interface {
	RecordResolution(outcome string)
	RecordPublish(status string)
	RecordPrediction(status string)
	RecordQuotaDenied()
}
