// Package spotify adapts the Spotify Web API to the catalog and playlist provider interfaces.
package spotify

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"setlistify/internal/core"
	"setlistify/pkg/text"
)

const (
	// FilePermission is the permission for token files
	FilePermission = 0600
	// MaxSearchLimit is the largest page the search endpoint accepts
	MaxSearchLimit = 50

	authState = "setlistify-auth-state"
)

// ErrInvalidTrackURI is returned for playlist entries that are not Spotify track URIs.
var ErrInvalidTrackURI = errors.New("invalid spotify track uri")

// Client implements core.Catalog and core.PlaylistProvider.
type Client struct {
	config *core.SpotifyConfig
	logger *zap.Logger
	auth   *spotifyauth.Authenticator

	mu     sync.RWMutex
	client *spotify.Client
	userID string
}

type TokenData struct {
	Token *oauth2.Token `json:"token"`
}

func NewClient(config *core.SpotifyConfig, logger *zap.Logger) *Client {
	auth := spotifyauth.New(
		spotifyauth.WithRedirectURL(config.RedirectURL),
		spotifyauth.WithScopes(
			spotifyauth.ScopePlaylistModifyPublic,
			spotifyauth.ScopePlaylistModifyPrivate,
			spotifyauth.ScopePlaylistReadPrivate,
			spotifyauth.ScopeImageUpload,
		),
		spotifyauth.WithClientID(config.ClientID),
		spotifyauth.WithClientSecret(config.ClientSecret),
	)

	return &Client{
		config: config,
		logger: logger,
		auth:   auth,
	}
}

// newWithAPI wraps an already authenticated API client.
func newWithAPI(api *spotify.Client, logger *zap.Logger) *Client {
	return &Client{
		config: &core.SpotifyConfig{},
		logger: logger,
		client: api,
	}
}

// Authenticate loads the saved token and verifies it. A missing or rejected token is core.ErrUnauthorized;
// run Login to obtain a new one.
func (c *Client) Authenticate(ctx context.Context) error {
	token, err := c.loadToken()
	if err != nil {
		return fmt.Errorf("%w: no saved token at %s: %w", core.ErrUnauthorized, c.config.TokenPath, err)
	}

	client := spotify.New(c.auth.Client(ctx, token))

	user, err := client.CurrentUser(ctx)
	if err != nil {
		return mapError(err)
	}

	c.mu.Lock()
	c.client = client
	c.userID = user.ID
	c.mu.Unlock()

	c.logger.Info("Authenticated successfully", zap.String("user", user.DisplayName))
	return nil
}

// Login runs the interactive OAuth code flow and saves the token.
func (c *Client) Login(ctx context.Context, in io.Reader, out io.Writer) error {
	authURL := c.auth.AuthURL(authState)

	fmt.Fprintf(out, "Please visit the following URL to authorize the application:\n%s\n", authURL)
	fmt.Fprint(out, "Enter the authorization code: ")

	code, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read authorization code: %w", err)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return errors.New("no authorization code entered")
	}

	token, err := c.auth.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange code for token: %w", err)
	}

	if err := c.saveToken(token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}

	return c.Authenticate(ctx)
}

func (c *Client) api() (*spotify.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, fmt.Errorf("%w: client not authenticated", core.ErrUnauthorized)
	}
	return c.client, nil
}

// SearchTracks returns up to limit catalog candidates for track by artist.
func (c *Client) SearchTracks(ctx context.Context, artist, track string, limit int) ([]core.CatalogTrack, error) {
	api, err := c.api()
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}

	results, err := api.Search(ctx, buildSearchQuery(artist, track), spotify.SearchTypeTrack, spotify.Limit(limit))
	if err != nil {
		return nil, mapError(err)
	}
	if results.Tracks == nil {
		return nil, nil
	}

	tracks := make([]core.CatalogTrack, 0, len(results.Tracks.Tracks))
	for i := range results.Tracks.Tracks {
		if len(tracks) >= limit {
			break
		}
		tracks = append(tracks, convertTrack(&results.Tracks.Tracks[i]))
	}
	return tracks, nil
}

// CurrentUserID returns the id of the authenticated user.
func (c *Client) CurrentUserID(ctx context.Context) (string, error) {
	c.mu.RLock()
	userID := c.userID
	c.mu.RUnlock()
	if userID != "" {
		return userID, nil
	}

	api, err := c.api()
	if err != nil {
		return "", err
	}
	user, err := api.CurrentUser(ctx)
	if err != nil {
		return "", mapError(err)
	}

	c.mu.Lock()
	c.userID = user.ID
	c.mu.Unlock()
	return user.ID, nil
}

// CreatePlaylist creates an empty, non-collaborative playlist owned by ownerID.
func (c *Client) CreatePlaylist(ctx context.Context, ownerID, name, description string, public bool) (core.RemotePlaylist, error) {
	api, err := c.api()
	if err != nil {
		return core.RemotePlaylist{}, err
	}

	playlist, err := api.CreatePlaylistForUser(ctx, ownerID, name, description, public, false)
	if err != nil {
		return core.RemotePlaylist{}, mapError(err)
	}

	return core.RemotePlaylist{
		ID:  string(playlist.ID),
		URL: playlist.ExternalURLs["spotify"],
	}, nil
}

// AddTracks appends uris to the playlist in one request.
func (c *Client) AddTracks(ctx context.Context, playlistID string, uris []string) error {
	api, err := c.api()
	if err != nil {
		return err
	}

	ids, err := trackIDs(uris)
	if err != nil {
		return err
	}

	if _, err := api.AddTracksToPlaylist(ctx, spotify.ID(playlistID), ids...); err != nil {
		return mapError(err)
	}
	return nil
}

// SetPlaylistImage uploads a base64 JPEG as the playlist cover.
func (c *Client) SetPlaylistImage(ctx context.Context, playlistID, base64JPEG string) error {
	api, err := c.api()
	if err != nil {
		return err
	}

	// the library base64-encodes the body itself
	raw, err := base64.StdEncoding.DecodeString(base64JPEG)
	if err != nil {
		return fmt.Errorf("invalid cover payload: %w", err)
	}

	if err := api.SetPlaylistImage(ctx, spotify.ID(playlistID), bytes.NewReader(raw)); err != nil {
		return mapError(err)
	}
	return nil
}

func buildSearchQuery(artist, track string) string {
	clean := func(s string) string {
		return strings.TrimSpace(strings.ReplaceAll(s, `"`, ""))
	}
	track, artist = clean(track), clean(artist)
	if artist == "" {
		return fmt.Sprintf("track:%q", track)
	}
	return fmt.Sprintf("track:%q artist:%q", track, artist)
}

func convertTrack(track *spotify.FullTrack) core.CatalogTrack {
	artists := make([]string, 0, len(track.Artists))
	for _, artist := range track.Artists {
		artists = append(artists, artist.Name)
	}

	var art string
	if len(track.Album.Images) > 0 {
		art = track.Album.Images[0].URL
	}

	return core.CatalogTrack{
		ID:          string(track.ID),
		Name:        track.Name,
		URI:         string(track.URI),
		Artists:     artists,
		AlbumName:   track.Album.Name,
		AlbumType:   track.Album.AlbumType,
		AlbumArtURL: art,
	}
}

func trackIDs(uris []string) ([]spotify.ID, error) {
	ids := make([]spotify.ID, 0, len(uris))
	for _, uri := range uris {
		id, err := text.SpotifyTrackID(uri)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTrackURI, uri)
		}
		ids = append(ids, spotify.ID(id))
	}
	return ids, nil
}

// mapError converts library errors into core errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return fmt.Errorf("%w: %w", core.ErrUnauthorized, err)
	}

	var apiErr spotify.Error
	if errors.As(err, &apiErr) {
		if apiErr.Status == http.StatusUnauthorized {
			return fmt.Errorf("%w: %s", core.ErrUnauthorized, apiErr.Message)
		}
		return &core.ProviderError{Status: apiErr.Status, Message: apiErr.Message}
	}

	return err
}

func (c *Client) loadToken() (*oauth2.Token, error) {
	data, err := os.ReadFile(c.config.TokenPath)
	if err != nil {
		return nil, err
	}

	var tokenData TokenData
	if err := json.Unmarshal(data, &tokenData); err != nil {
		return nil, err
	}
	if tokenData.Token == nil {
		return nil, errors.New("token file holds no token")
	}

	return tokenData.Token, nil
}

func (c *Client) saveToken(token *oauth2.Token) error {
	tokenData := TokenData{Token: token}

	data, err := json.MarshalIndent(tokenData, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(c.config.TokenPath, data, FilePermission)
}
