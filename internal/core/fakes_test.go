package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// fakeCatalog answers searches from a fixed table keyed by "artist|track" (lower case).
type fakeCatalog struct {
	mu     sync.Mutex
	tracks map[string][]CatalogTrack
	errs   map[string]error
	delays map[string]time.Duration
	calls  []string
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		tracks: make(map[string][]CatalogTrack),
		errs:   make(map[string]error),
		delays: make(map[string]time.Duration),
	}
}

func catalogKey(artist, track string) string {
	return strings.ToLower(artist) + "|" + strings.ToLower(track)
}

// add registers a single-candidate answer with a predictable id.
func (c *fakeCatalog) add(artist, track, trackArtist string) CatalogTrack {
	id := strings.ReplaceAll(strings.ToLower(track), " ", "-")
	t := CatalogTrack{
		ID:      id,
		Name:    track,
		URI:     "spotify:track:" + id,
		Artists: []string{trackArtist},
	}
	c.tracks[catalogKey(artist, track)] = append(c.tracks[catalogKey(artist, track)], t)
	return t
}

func (c *fakeCatalog) SearchTracks(ctx context.Context, artist, track string, _ int) ([]CatalogTrack, error) {
	key := catalogKey(artist, track)

	c.mu.Lock()
	c.calls = append(c.calls, key)
	delay := c.delays[key]
	err := c.errs[key]
	tracks := c.tracks[key]
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return tracks, nil
}

func (c *fakeCatalog) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// fakeProvider records every publish call.
type fakeProvider struct {
	userID     string
	userErr    error
	createErr  error
	addErr     error
	addErrAt   int // batch number that fails, 1-based; 0 means every batch
	imageErr   error
	created    []string
	addBatches [][]string
	images     []string
}

func (p *fakeProvider) CurrentUserID(context.Context) (string, error) {
	if p.userErr != nil {
		return "", p.userErr
	}
	if p.userID == "" {
		return "owner", nil
	}
	return p.userID, nil
}

func (p *fakeProvider) CreatePlaylist(_ context.Context, ownerID, name, _ string, _ bool) (RemotePlaylist, error) {
	if p.createErr != nil {
		return RemotePlaylist{}, p.createErr
	}
	p.created = append(p.created, ownerID+"/"+name)
	id := fmt.Sprintf("pl%d", len(p.created))
	return RemotePlaylist{ID: id, URL: "https://open.spotify.com/playlist/" + id}, nil
}

func (p *fakeProvider) AddTracks(_ context.Context, _ string, uris []string) error {
	batch := len(p.addBatches) + 1
	if p.addErr != nil && (p.addErrAt == 0 || p.addErrAt == batch) {
		return p.addErr
	}
	p.addBatches = append(p.addBatches, append([]string(nil), uris...))
	return nil
}

func (p *fakeProvider) SetPlaylistImage(_ context.Context, _, base64JPEG string) error {
	if p.imageErr != nil {
		return p.imageErr
	}
	p.images = append(p.images, base64JPEG)
	return nil
}

func (p *fakeProvider) calls() int {
	return len(p.created) + len(p.addBatches) + len(p.images)
}

type fakeEncoder struct {
	out string
	err error
}

func (e fakeEncoder) Transcode([]byte, int) (string, error) {
	return e.out, e.err
}

type fakeConcerts struct {
	artists  []Artist
	setlists []Setlist
	setlist  *Setlist
	err      error
}

func (c *fakeConcerts) SearchArtists(context.Context, string) ([]Artist, error) {
	return c.artists, c.err
}

func (c *fakeConcerts) GetSetlistsByArtist(context.Context, string, int) ([]Setlist, error) {
	return c.setlists, c.err
}

func (c *fakeConcerts) GetSetlist(_ context.Context, id string) (*Setlist, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.setlist == nil || c.setlist.ID != id {
		return nil, ErrNoSetlists
	}
	return c.setlist, nil
}

type fakePredictor struct {
	calls  int
	result []Setlist
	err    error
}

func (p *fakePredictor) PredictSetlists(context.Context, []Setlist) ([]Setlist, error) {
	p.calls++
	return p.result, p.err
}

type fakeQuota struct {
	decision QuotaDecision
	err      error
	calls    int
}

func (q *fakeQuota) CheckAndConsume(context.Context, string) (QuotaDecision, error) {
	q.calls++
	return q.decision, q.err
}

type memoryPlaylists struct {
	saved []*StoredPlaylist
}

func (m *memoryPlaylists) SavePlaylist(_ context.Context, p *StoredPlaylist) error {
	m.saved = append(m.saved, p)
	return nil
}

func (m *memoryPlaylists) GetPlaylist(_ context.Context, id string) (*StoredPlaylist, error) {
	for _, p := range m.saved {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, fmt.Errorf("playlist %s not found", id)
}

func (m *memoryPlaylists) ListPlaylists(_ context.Context, userID string) ([]StoredPlaylist, error) {
	var out []StoredPlaylist
	for _, p := range m.saved {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memoryPlaylists) DeletePlaylist(context.Context, string, string) error {
	return nil
}

type mapCache map[string]ResolvedTrack

func (c mapCache) Get(key string) (ResolvedTrack, bool) {
	t, ok := c[key]
	return t, ok
}

func (c mapCache) Add(key string, track ResolvedTrack) {
	c[key] = track
}

func songs(names ...string) []SetlistEntry {
	entries := make([]SetlistEntry, len(names))
	for i, n := range names {
		entries[i] = SetlistEntry{Name: n}
	}
	return entries
}

func resolvedTracks(ids ...string) []ResolvedTrack {
	tracks := make([]ResolvedTrack, len(ids))
	for i, id := range ids {
		if id == "" {
			tracks[i] = ResolvedTrack{DisplayName: "missing"}
			continue
		}
		tracks[i] = ResolvedTrack{
			CatalogID:         id,
			DisplayName:       id,
			PrimaryArtistName: "Band",
			URI:               "spotify:track:" + id,
			Source:            SourcePrimary,
		}
	}
	return tracks
}
