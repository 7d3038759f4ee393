package core

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"setlistify/pkg/fuzzy"
)

const (
	// MaxSearchCandidates is how many catalog results are considered per query
	MaxSearchCandidates = 5
	// compilationAlbumType is the catalog album type skipped by the tie-break
	compilationAlbumType = "compilation"
)

// TrackResolver matches setlist entries to catalog tracks.
type TrackResolver struct {
	catalog     Catalog
	cache       TrackCache
	normalizer  *fuzzy.Normalizer
	concurrency int
	logger      *zap.Logger
	metrics     Metrics
}

// NewTrackResolver creates a resolver. cache may be nil.
func NewTrackResolver(catalog Catalog, cache TrackCache, concurrency int, logger *zap.Logger) *TrackResolver {
	if concurrency <= 0 {
		concurrency = DefaultResolveConcurrency
	}
	return &TrackResolver{
		catalog:     catalog,
		cache:       cache,
		normalizer:  fuzzy.NewNormalizer(),
		concurrency: concurrency,
		logger:      logger,
		metrics:     noopMetrics{},
	}
}

// SetMetrics installs a metrics recorder.
func (r *TrackResolver) SetMetrics(m Metrics) {
	if m != nil {
		r.metrics = m
	}
}

// ResolveAll resolves every non-placeholder entry of the setlist concurrently.
// The result is index-aligned with setlist.ResolvableEntries().
func (r *TrackResolver) ResolveAll(ctx context.Context, setlist Setlist) ([]ResolvedTrack, error) {
	entries := setlist.ResolvableEntries()
	results := make([]ResolvedTrack, len(entries))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, entry := range entries {
		g.Go(func() error {
			track, err := r.Resolve(gCtx, entry, setlist.PerformingArtistName)
			if err != nil {
				return err
			}
			results[i] = track
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	found := 0
	for i := range results {
		if results[i].Found() {
			found++
		}
	}
	r.logger.Info("Resolved setlist",
		zap.String("artist", setlist.PerformingArtistName),
		zap.String("setlistID", setlist.ID),
		zap.Int("entries", len(entries)),
		zap.Int("found", found))

	return results, nil
}

// Resolve matches a single entry. A miss is returned as the not-found sentinel with a nil error;
// only credential failures and cancellation are returned as errors.
func (r *TrackResolver) Resolve(ctx context.Context, entry SetlistEntry, performingArtist string) (ResolvedTrack, error) {
	if entry.IsPlaceholder() || strings.TrimSpace(entry.Name) == "" {
		return NotFoundTrack(entry), nil
	}

	key := resolutionKey(entry, performingArtist)
	if r.cache != nil {
		if track, ok := r.cache.Get(key); ok {
			return track, nil
		}
	}

	track, lookupFailed, err := r.resolveUncached(ctx, entry, performingArtist)
	if err != nil {
		r.metrics.RecordResolution("error")
		return ResolvedTrack{}, err
	}

	r.metrics.RecordResolution(track.Source.String())
	if r.cache != nil && !lookupFailed {
		r.cache.Add(key, track)
	}
	return track, nil
}

func (r *TrackResolver) resolveUncached(
	ctx context.Context, entry SetlistEntry, performingArtist string,
) (track ResolvedTrack, lookupFailed bool, err error) {
	match, ok, err := r.search(ctx, performingArtist, entry.Name)
	if err != nil {
		if fatal := fatalResolveError(ctx, err); fatal != nil {
			return ResolvedTrack{}, true, fatal
		}
		lookupFailed = true
		r.logger.Warn("Track lookup failed, treating as miss",
			zap.String("artist", performingArtist),
			zap.String("track", entry.Name),
			zap.Error(err))
	}
	if ok {
		return toResolvedTrack(match, SourcePrimary), lookupFailed, nil
	}

	if entry.IsCover() {
		match, ok, err = r.search(ctx, entry.CoverOriginalArtist, entry.Name)
		if err != nil {
			if fatal := fatalResolveError(ctx, err); fatal != nil {
				return ResolvedTrack{}, true, fatal
			}
			lookupFailed = true
			r.logger.Warn("Cover artist lookup failed, treating as miss",
				zap.String("coverArtist", entry.CoverOriginalArtist),
				zap.String("track", entry.Name),
				zap.Error(err))
		}
		if ok {
			r.logger.Debug("Resolved via cover artist",
				zap.String("coverArtist", entry.CoverOriginalArtist),
				zap.String("track", entry.Name))
			return toResolvedTrack(match, SourceCoverArtist), lookupFailed, nil
		}
	}

	r.logger.Debug("Track not found in catalog",
		zap.String("artist", performingArtist),
		zap.String("track", entry.Name))
	return NotFoundTrack(entry), lookupFailed, nil
}

func (r *TrackResolver) search(ctx context.Context, artist, name string) (CatalogTrack, bool, error) {
	candidates, err := r.catalog.SearchTracks(ctx,
		r.normalizer.CleanQuery(artist), r.normalizer.CleanQuery(name), MaxSearchCandidates)
	if err != nil {
		return CatalogTrack{}, false, err
	}
	if len(candidates) > MaxSearchCandidates {
		candidates = candidates[:MaxSearchCandidates]
	}
	match, ok := pickBestMatch(candidates, name)
	return match, ok, nil
}

// pickBestMatch prefers a case-insensitive title match on a non-compilation album,
// falling back to the highest-relevance candidate.
func pickBestMatch(candidates []CatalogTrack, name string) (CatalogTrack, bool) {
	var usable []CatalogTrack
	for i := range candidates {
		if candidates[i].Name != "" && candidates[i].ID != "" {
			usable = append(usable, candidates[i])
		}
	}
	if len(usable) == 0 {
		return CatalogTrack{}, false
	}

	for i := range usable {
		if fuzzy.SameTitle(usable[i].Name, name) && !strings.EqualFold(usable[i].AlbumType, compilationAlbumType) {
			return usable[i], true
		}
	}
	return usable[0], true
}

func fatalResolveError(ctx context.Context, err error) error {
	if errors.Is(err, ErrUnauthorized) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return nil
}

func toResolvedTrack(t CatalogTrack, source ResolutionSource) ResolvedTrack {
	return ResolvedTrack{
		CatalogID:         t.ID,
		DisplayName:       t.Name,
		PrimaryArtistName: t.PrimaryArtist(),
		AlbumArtURL:       t.AlbumArtURL,
		URI:               t.URI,
		Source:            source,
	}
}

func resolutionKey(entry SetlistEntry, artist string) string {
	return strings.ToLower(artist) + "\x00" + strings.ToLower(entry.Name) + "\x00" + strings.ToLower(entry.CoverOriginalArtist)
}
