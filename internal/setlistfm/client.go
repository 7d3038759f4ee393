// Package setlistfm is a client for the setlist.fm REST API.
package setlistfm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"setlistify/internal/core"
)

const (
	// DefaultBaseURL is the setlist.fm REST 1.0 endpoint
	DefaultBaseURL = "https://api.setlist.fm/rest/1.0"

	maxErrorBody = 512
)

// Client implements core.ConcertSource against setlist.fm.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	maxRetries int
	baseDelay  time.Duration
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client from config. A zero RequestsPerSec disables rate limiting.
func NewClient(config *core.SetlistFMConfig, logger *zap.Logger) *Client {
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	limit := rate.Inf
	if config.RequestsPerSec > 0 {
		limit = rate.Limit(config.RequestsPerSec)
	}

	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
		apiKey:     config.APIKey,
		limiter:    rate.NewLimiter(limit, 1),
		maxRetries: max(config.MaxRetries, 0),
		baseDelay:  config.RetryBaseDelay,
		logger:     logger,
		sleep:      sleepContext,
	}
}

// SearchArtists returns artists matching name, most relevant first.
func (c *Client) SearchArtists(ctx context.Context, name string) ([]core.Artist, error) {
	q := url.Values{}
	q.Set("artistName", name)
	q.Set("sort", "relevance")
	q.Set("p", "1")

	var resp artistSearchResponse
	if err := c.get(ctx, "/search/artists", q, &resp); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	artists := make([]core.Artist, 0, len(resp.Artist))
	for _, a := range resp.Artist {
		if a.MBID == "" {
			continue
		}
		artists = append(artists, a.toCore())
	}
	return artists, nil
}

// GetSetlistsByArtist fetches up to maxPages pages of the artist's setlists, most recent first.
func (c *Client) GetSetlistsByArtist(ctx context.Context, artistID string, maxPages int) ([]core.Setlist, error) {
	if artistID == "" {
		return nil, errors.New("artist id is required")
	}
	if maxPages <= 0 {
		maxPages = 1
	}

	var setlists []core.Setlist
	for page := 1; page <= maxPages; page++ {
		q := url.Values{}
		q.Set("p", strconv.Itoa(page))

		var resp setlistsResponse
		err := c.get(ctx, "/artist/"+url.PathEscape(artistID)+"/setlists", q, &resp)
		if err != nil {
			if isNotFound(err) {
				break
			}
			if page > 1 && len(setlists) > 0 {
				c.logger.Warn("Stopping setlist pagination early",
					zap.String("artistID", artistID),
					zap.Int("page", page),
					zap.Error(err))
				break
			}
			return nil, err
		}

		for _, s := range resp.Setlist {
			setlists = append(setlists, s.toCore())
		}

		if resp.ItemsPerPage <= 0 || page*resp.ItemsPerPage >= resp.Total || len(resp.Setlist) == 0 {
			break
		}
	}

	c.logger.Debug("Fetched setlists",
		zap.String("artistID", artistID),
		zap.Int("count", len(setlists)))
	return setlists, nil
}

// GetSetlist fetches one setlist by id.
func (c *Client) GetSetlist(ctx context.Context, setlistID string) (*core.Setlist, error) {
	if setlistID == "" {
		return nil, errors.New("setlist id is required")
	}

	var resp setlistDTO
	if err := c.get(ctx, "/setlist/"+url.PathEscape(setlistID), nil, &resp); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: setlist %s", core.ErrNoSetlists, setlistID)
		}
		return nil, err
	}
	s := resp.toCore()
	return &s, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay(attempt, lastErr)
			c.logger.Info("Retrying setlist.fm request",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.String("path", path))
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		lastErr = c.do(ctx, endpoint, out)
		if lastErr == nil || !retryable(lastErr) {
			return lastErr
		}
		c.logger.Warn("setlist.fm request failed",
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}
	return fmt.Errorf("failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func (c *Client) do(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &retryAfterError{
			APIError:   &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))},
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// retryDelay doubles the base delay per attempt unless the server asked for longer.
func (c *Client) retryDelay(attempt int, lastErr error) time.Duration {
	delay := c.baseDelay * time.Duration(1<<uint(attempt-1)) //nolint:gosec // attempt is small and positive
	var ra *retryAfterError
	if errors.As(lastErr, &ra) && ra.retryAfter > delay {
		delay = ra.retryAfter
	}
	return delay
}

type retryAfterError struct {
	*APIError
	retryAfter time.Duration
}

func (e *retryAfterError) Unwrap() error {
	return e.APIError
}

func retryable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError
}

func isNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		return time.Until(t)
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
