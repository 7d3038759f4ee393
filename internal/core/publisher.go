package core

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	// MaxPlaylistNameLength is the longest accepted playlist name, in characters
	MaxPlaylistNameLength = 100
	// MaxPlaylistDescriptionLength is the longest accepted description, in characters
	MaxPlaylistDescriptionLength = 300
	// MaxCoverImageBytes is the provider limit for a base64 playlist cover
	MaxCoverImageBytes = 262144
	// MaxTracksPerRequest is the provider limit for one add-tracks call
	MaxTracksPerRequest = 100
)

// PlaylistPublisher turns a draft into a remote playlist.
// Steps run strictly in order; there are no retries at this layer.
type PlaylistPublisher struct {
	provider PlaylistProvider
	encoder  CoverEncoder
	logger   *zap.Logger
	metrics  Metrics
}

// NewPlaylistPublisher creates a publisher. encoder may be nil when covers are not supported.
func NewPlaylistPublisher(provider PlaylistProvider, encoder CoverEncoder, logger *zap.Logger) *PlaylistPublisher {
	return &PlaylistPublisher{
		provider: provider,
		encoder:  encoder,
		logger:   logger,
		metrics:  noopMetrics{},
	}
}

// SetMetrics installs a metrics recorder.
func (p *PlaylistPublisher) SetMetrics(m Metrics) {
	if m != nil {
		p.metrics = m
	}
}

// Publish validates the draft, creates the playlist, adds its tracks and uploads the cover.
//
// A returned *ExportError means nothing was created. Once the playlist exists, track
// addition and cover upload failures are reported in PublishResult.Issue instead.
func (p *PlaylistPublisher) Publish(ctx context.Context, draft *PlaylistDraft) (*PublishResult, error) {
	result, err := p.publish(ctx, draft)
	switch {
	case err != nil:
		var exportErr *ExportError
		if errors.As(err, &exportErr) {
			p.metrics.RecordPublish(string(exportErr.Kind))
		} else {
			p.metrics.RecordPublish(string(ExportUnexpected))
		}
	default:
		p.metrics.RecordPublish(string(result.Status))
	}
	return result, err
}

func (p *PlaylistPublisher) publish(ctx context.Context, draft *PlaylistDraft) (*PublishResult, error) {
	uris, err := validateDraft(draft)
	if err != nil {
		return nil, err
	}

	var cover string
	if len(draft.CoverImage) > 0 {
		if p.encoder == nil {
			return nil, &ExportError{Kind: ExportImageProcessing, Err: ErrImageProcessing}
		}
		cover, err = p.encoder.Transcode(draft.CoverImage, MaxCoverImageBytes)
		if err != nil {
			return nil, &ExportError{Kind: ExportImageProcessing, Err: fmt.Errorf("%w: %w", ErrImageProcessing, err)}
		}
		p.logger.Debug("Cover image transcoded",
			zap.Int("inputBytes", len(draft.CoverImage)),
			zap.Int("outputBytes", len(cover)))
	}

	ownerID := draft.OwnerID
	if ownerID == "" {
		ownerID, err = p.provider.CurrentUserID(ctx)
		if err != nil {
			return nil, creationError(err)
		}
	}

	playlist, err := p.provider.CreatePlaylist(ctx, ownerID, draft.Name, draft.Description, draft.Public)
	if err != nil {
		return nil, creationError(err)
	}

	p.logger.Info("Playlist created",
		zap.String("playlistID", playlist.ID),
		zap.String("name", draft.Name),
		zap.Int("tracks", len(uris)))

	result := &PublishResult{
		PlaylistID:  playlist.ID,
		PlaylistURL: playlist.URL,
		Status:      PublishFull,
	}

	added, err := p.addTracks(ctx, playlist.ID, uris)
	result.AddedURIs = added
	if err != nil {
		p.logger.Warn("Playlist created but adding tracks failed",
			zap.String("playlistID", playlist.ID),
			zap.Int("added", len(added)),
			zap.Int("wanted", len(uris)),
			zap.Error(err))
		result.markPartial(fmt.Errorf("%w: %w", ErrTrackAddition, err))
	}

	if cover != "" {
		if err := p.provider.SetPlaylistImage(ctx, playlist.ID, cover); err != nil {
			p.logger.Warn("Playlist created but cover upload failed",
				zap.String("playlistID", playlist.ID),
				zap.Error(err))
			result.markPartial(fmt.Errorf("%w: %w", ErrImageUpload, err))
		}
	}

	return result, nil
}

// addTracks submits uris in provider-sized batches and returns the uris that were accepted.
func (p *PlaylistPublisher) addTracks(ctx context.Context, playlistID string, uris []string) ([]string, error) {
	added := make([]string, 0, len(uris))
	for start := 0; start < len(uris); start += MaxTracksPerRequest {
		end := min(start+MaxTracksPerRequest, len(uris))
		if err := p.provider.AddTracks(ctx, playlistID, uris[start:end]); err != nil {
			return added, err
		}
		added = append(added, uris[start:end]...)
	}
	return added, nil
}

func (r *PublishResult) markPartial(err error) {
	r.Status = PublishPartial
	if r.Issue == "" {
		r.Issue = err.Error()
		return
	}
	r.Issue += "; " + err.Error()
}

// validateDraft checks the draft and returns the uris to publish.
func validateDraft(draft *PlaylistDraft) ([]string, error) {
	if draft == nil || draft.Name == "" {
		return nil, &ExportError{Kind: ExportNoName, Err: ErrNoNameProvided}
	}
	if utf8.RuneCountInString(draft.Name) > MaxPlaylistNameLength {
		return nil, &ExportError{Kind: ExportNameTooLong, Err: ErrNameTooLong}
	}
	if utf8.RuneCountInString(draft.Description) > MaxPlaylistDescriptionLength {
		return nil, &ExportError{Kind: ExportDescTooLong, Err: ErrDescriptionTooLong}
	}

	uris := make([]string, 0, len(draft.Tracks))
	for i := range draft.Tracks {
		if draft.Tracks[i].URI != "" {
			uris = append(uris, draft.Tracks[i].URI)
		}
	}
	if len(uris) == 0 {
		return nil, &ExportError{Kind: ExportNoSongs, Err: ErrNoSongsProvided}
	}
	return uris, nil
}

func creationError(err error) error {
	if errors.Is(err, ErrUnauthorized) {
		return &ExportError{Kind: ExportUnauthorized, Err: err}
	}
	return &ExportError{
		Kind:   ExportPlaylistCreation,
		Status: providerStatus(err),
		Err:    fmt.Errorf("%w: %w", ErrPlaylistCreation, err),
	}
}
