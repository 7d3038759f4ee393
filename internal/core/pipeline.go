package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"setlistify/pkg/fuzzy"
)

const (
	// MaxPastSetlists caps the history handed to the predictor
	MaxPastSetlists = 20
	// PredictionCandidates is the number of setlists a predictor returns
	PredictionCandidates = 3
)

// PipelineDeps wires the collaborators of a Pipeline. Predictor, Quota, Playlists and Metrics may be nil.
type PipelineDeps struct {
	Concerts  ConcertSource
	Resolver  *TrackResolver
	Publisher *PlaylistPublisher
	Predictor SetlistPredictor
	Quota     QuotaGate
	Playlists PlaylistStore
	Metrics   Metrics
	MaxPages  int
}

// Pipeline runs the setlist → playlist flow end to end.
type Pipeline struct {
	concerts   ConcertSource
	resolver   *TrackResolver
	publisher  *PlaylistPublisher
	predictor  SetlistPredictor
	quota      QuotaGate
	playlists  PlaylistStore
	metrics    Metrics
	maxPages   int
	normalizer *fuzzy.Normalizer
	logger     *zap.Logger
}

// ExportPreview is a resolved setlist under review.
type ExportPreview struct {
	Setlist  Setlist
	Resolved []ResolvedTrack
	Filter   *FilterSession
}

// ExportRequest carries the user-facing playlist metadata.
type ExportRequest struct {
	Name        string
	Description string
	Public      bool
	CoverImage  []byte
}

// Prediction is the outcome of a quota-gated prediction.
type Prediction struct {
	Candidates []Setlist `json:"candidates"`
	Merged     Setlist   `json:"merged"`
	Remaining  int       `json:"remaining"`
}

func NewPipeline(deps PipelineDeps, logger *zap.Logger) *Pipeline {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	maxPages := deps.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxSetlistPages
	}
	return &Pipeline{
		concerts:   deps.Concerts,
		resolver:   deps.Resolver,
		publisher:  deps.Publisher,
		predictor:  deps.Predictor,
		quota:      deps.Quota,
		playlists:  deps.Playlists,
		metrics:    metrics,
		maxPages:   maxPages,
		normalizer: fuzzy.NewNormalizer(),
		logger:     logger,
	}
}

// FindArtist returns the best artist match for query: an exact name match if any, else the first result.
func (p *Pipeline) FindArtist(ctx context.Context, query string) (Artist, error) {
	artists, err := p.concerts.SearchArtists(ctx, query)
	if err != nil {
		return Artist{}, fmt.Errorf("artist search failed: %w", err)
	}
	if len(artists) == 0 {
		return Artist{}, fmt.Errorf("%w: %s", ErrArtistNotFound, query)
	}

	want := p.normalizer.Key(query)
	for _, a := range artists {
		if p.normalizer.Key(a.Name) == want {
			return a, nil
		}
	}
	return artists[0], nil
}

// LoadSetlists fetches the artist's past setlists, most recent first.
func (p *Pipeline) LoadSetlists(ctx context.Context, artistQuery string) (Artist, []Setlist, error) {
	artist, err := p.FindArtist(ctx, artistQuery)
	if err != nil {
		return Artist{}, nil, err
	}

	setlists, err := p.concerts.GetSetlistsByArtist(ctx, artist.ID, p.maxPages)
	if err != nil {
		return artist, nil, fmt.Errorf("failed to load setlists for %s: %w", artist.Name, err)
	}

	var nonEmpty []Setlist
	for i := range setlists {
		if !setlists[i].IsEmpty() {
			nonEmpty = append(nonEmpty, setlists[i])
		}
	}
	if len(nonEmpty) == 0 {
		return artist, nil, fmt.Errorf("%w for %s", ErrNoSetlists, artist.Name)
	}

	p.logger.Info("Loaded setlists",
		zap.String("artist", artist.Name),
		zap.Int("total", len(setlists)),
		zap.Int("nonEmpty", len(nonEmpty)))

	return artist, nonEmpty, nil
}

// LoadSetlist fetches one setlist by its concert-source id.
func (p *Pipeline) LoadSetlist(ctx context.Context, setlistID string) (*Setlist, error) {
	setlist, err := p.concerts.GetSetlist(ctx, setlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to load setlist %s: %w", setlistID, err)
	}
	if setlist.IsEmpty() {
		return nil, fmt.Errorf("%w: setlist %s has no songs", ErrNoSetlists, setlistID)
	}
	return setlist, nil
}

// PrepareExport resolves the setlist and computes the initial exclusions.
func (p *Pipeline) PrepareExport(ctx context.Context, setlist Setlist, settings FilterSettings) (*ExportPreview, error) {
	resolved, err := p.resolver.ResolveAll(ctx, setlist)
	if err != nil {
		return nil, err
	}
	return &ExportPreview{
		Setlist:  setlist,
		Resolved: resolved,
		Filter:   NewFilterSession(setlist, resolved, settings),
	}, nil
}

// Predict consumes one quota unit and asks the predictor for candidate setlists.
// Denial is returned as a *QuotaDeniedError and the predictor is not called.
func (p *Pipeline) Predict(ctx context.Context, userID string, past []Setlist) (*Prediction, error) {
	if p.predictor == nil {
		return nil, ErrPredictorNotConfigured
	}

	history := TrimPastSetlists(past, MaxPastSetlists)
	if len(history) == 0 {
		return nil, ErrNoSetlists
	}

	remaining := -1
	if p.quota != nil {
		decision, err := p.quota.CheckAndConsume(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("quota check failed: %w", err)
		}
		if !decision.Allowed {
			p.metrics.RecordQuotaDenied()
			p.logger.Info("Prediction quota reached",
				zap.String("userID", userID),
				zap.Time("retryAfter", decision.RetryAfter))
			return nil, &QuotaDeniedError{UserID: userID, RetryAfter: decision.RetryAfter}
		}
		remaining = decision.Remaining
	}

	candidates, err := p.predictor.PredictSetlists(ctx, history)
	if err != nil {
		p.metrics.RecordPrediction("error")
		return nil, fmt.Errorf("prediction failed: %w", err)
	}
	if len(candidates) != PredictionCandidates {
		p.metrics.RecordPrediction("invalid")
		return nil, fmt.Errorf("prediction returned %d setlists, expected %d", len(candidates), PredictionCandidates)
	}
	p.metrics.RecordPrediction("ok")

	artist := history[0].PerformingArtistName
	for i := range candidates {
		if candidates[i].PerformingArtistName == "" {
			candidates[i].PerformingArtistName = artist
		}
	}

	return &Prediction{
		Candidates: candidates,
		Merged:     MergeSetlists(candidates),
		Remaining:  remaining,
	}, nil
}

// Export publishes the reviewed preview and records the playlist for the user.
//
// Publishing is detached from ctx cancellation: playlist creation cannot be safely
// aborted once issued, so a caller that stops waiting does not interrupt it.
func (p *Pipeline) Export(ctx context.Context, userID string, preview *ExportPreview, req ExportRequest) (*PublishResult, error) {
	if preview == nil {
		return nil, &ExportError{Kind: ExportNoSongs, Err: ErrNoSongsProvided}
	}

	tracks := preview.Filter.FinalTracks()
	draft := &PlaylistDraft{
		Name:        req.Name,
		Description: req.Description,
		Public:      req.Public,
		CoverImage:  req.CoverImage,
		Tracks:      tracks,
	}

	result, err := p.publisher.Publish(context.WithoutCancel(ctx), draft)
	if err != nil {
		var exportErr *ExportError
		if !errors.As(err, &exportErr) {
			err = &ExportError{Kind: ExportUnexpected, Err: err}
		}
		return nil, err
	}

	if p.playlists != nil && userID != "" {
		stored := storedPlaylistFrom(userID, draft, result)
		if saveErr := p.playlists.SavePlaylist(context.WithoutCancel(ctx), stored); saveErr != nil {
			p.logger.Warn("Failed to store exported playlist",
				zap.String("userID", userID),
				zap.String("playlistID", result.PlaylistID),
				zap.Error(saveErr))
		}
	}

	return result, nil
}

// TrimPastSetlists returns at most limit non-empty setlists, most recent event first.
func TrimPastSetlists(past []Setlist, limit int) []Setlist {
	var nonEmpty []Setlist
	for i := range past {
		if !past[i].IsEmpty() {
			nonEmpty = append(nonEmpty, past[i])
		}
	}

	sort.SliceStable(nonEmpty, func(i, j int) bool {
		return nonEmpty[i].EventDateISO > nonEmpty[j].EventDateISO
	})

	if limit > 0 && len(nonEmpty) > limit {
		nonEmpty = nonEmpty[:limit]
	}
	return nonEmpty
}

func storedPlaylistFrom(userID string, draft *PlaylistDraft, result *PublishResult) *StoredPlaylist {
	added := make(map[string]int, len(result.AddedURIs))
	for _, uri := range result.AddedURIs {
		added[uri]++
	}

	var songs []StoredSong
	for i := range draft.Tracks {
		uri := draft.Tracks[i].URI
		if added[uri] == 0 {
			continue
		}
		added[uri]--
		songs = append(songs, StoredSong{CatalogSongID: draft.Tracks[i].CatalogID, Position: len(songs)})
	}

	return &StoredPlaylist{
		UserID:      userID,
		CatalogID:   result.PlaylistID,
		Name:        draft.Name,
		Description: draft.Description,
		Songs:       songs,
		CreatedAt:   time.Now().UTC(),
	}
}

type noopMetrics struct{}

func (noopMetrics) RecordResolution(string) {}
func (noopMetrics) RecordPublish(string)    {}
func (noopMetrics) RecordPrediction(string) {}
func (noopMetrics) RecordQuotaDenied()      {}
