package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"setlistify/internal/core"
	"setlistify/internal/flood"
	"setlistify/internal/store"
)

type stubConcerts struct {
	setlist core.Setlist
}

func (s *stubConcerts) SearchArtists(_ context.Context, name string) ([]core.Artist, error) {
	if !strings.EqualFold(name, s.setlist.PerformingArtistName) {
		return nil, nil
	}
	return []core.Artist{{ID: "a1", Name: s.setlist.PerformingArtistName}}, nil
}

func (s *stubConcerts) GetSetlistsByArtist(context.Context, string, int) ([]core.Setlist, error) {
	return []core.Setlist{s.setlist}, nil
}

func (s *stubConcerts) GetSetlist(_ context.Context, id string) (*core.Setlist, error) {
	if id != s.setlist.ID {
		return nil, core.ErrNoSetlists
	}
	setlist := s.setlist
	return &setlist, nil
}

// stubCatalog resolves every song except "Unreleased" to a track named after it.
type stubCatalog struct{}

func (stubCatalog) SearchTracks(_ context.Context, artist, track string, _ int) ([]core.CatalogTrack, error) {
	if track == "Unreleased" {
		return nil, nil
	}
	id := strings.ToLower(strings.ReplaceAll(track, " ", ""))
	return []core.CatalogTrack{{ID: id, Name: track, URI: "spotify:track:" + id, Artists: []string{artist}}}, nil
}

type stubProvider struct {
	mu        sync.Mutex
	createErr error
	added     []string
	created   int
}

func (p *stubProvider) CurrentUserID(context.Context) (string, error) { return "owner", nil }

func (p *stubProvider) CreatePlaylist(context.Context, string, string, string, bool) (core.RemotePlaylist, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return core.RemotePlaylist{}, p.createErr
	}
	p.created++
	return core.RemotePlaylist{ID: "remote1", URL: "https://open.spotify.com/playlist/remote1"}, nil
}

func (p *stubProvider) AddTracks(_ context.Context, _ string, uris []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.added = append(p.added, uris...)
	return nil
}

func (p *stubProvider) SetPlaylistImage(context.Context, string, string) error { return nil }

type stubPredictor struct{}

func (stubPredictor) PredictSetlists(context.Context, []core.Setlist) ([]core.Setlist, error) {
	return []core.Setlist{
		core.NewSingleSegmentSetlist("", "", []core.SetlistEntry{{Name: "X"}, {Name: "Y"}}),
		core.NewSingleSegmentSetlist("", "", []core.SetlistEntry{{Name: "Y"}, {Name: "Z"}}),
		core.NewSingleSegmentSetlist("", "", []core.SetlistEntry{{Name: "X"}}),
	}, nil
}

type testEnv struct {
	server   *httptest.Server
	provider *stubProvider
	metrics  *Metrics
}

func newTestEnv(t *testing.T, floodLimit, quota int) *testEnv {
	t.Helper()

	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	setlist := core.Setlist{
		ID:                   "63de4613",
		EventDateISO:         "2024-05-01",
		PerformingArtistName: "Band",
		Segments: []core.SetlistSegment{{Entries: []core.SetlistEntry{
			{Name: "Opener"}, {Name: "Hit"}, {Name: "Unreleased"}, {Name: "Hit"}, {Name: "Closer"},
		}}},
	}

	logger := zap.NewNop()
	provider := &stubProvider{}
	metrics := NewMetrics("test")
	playlists := store.NewPlaylistStore(db)

	pipeline := core.NewPipeline(core.PipelineDeps{
		Concerts:  &stubConcerts{setlist: setlist},
		Resolver:  core.NewTrackResolver(stubCatalog{}, store.NewTrackCache(100, store.DefaultFalsePositiveRate), 4, logger),
		Publisher: core.NewPlaylistPublisher(provider, nil, logger),
		Predictor: stubPredictor{},
		Quota:     store.NewQuotaStore(db, quota),
		Playlists: playlists,
		Metrics:   metrics,
	}, logger)

	throttle := flood.New(floodLimit)
	t.Cleanup(throttle.Stop)

	api := NewAPI(APIDeps{
		Pipeline:  pipeline,
		Playlists: playlists,
		Throttle:  throttle,
		Metrics:   metrics,
	}, logger)

	server := httptest.NewServer(setupRoutes(logger, metrics, api))
	t.Cleanup(server.Close)

	return &testEnv{server: server, provider: provider, metrics: metrics}
}

func (e *testEnv) do(t *testing.T, method, path, user string, body, out any) int {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json.Marshal() error = %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, _ := http.NewRequestWithContext(context.Background(), method, e.server.URL+path, reader)
	if user != "" {
		req.Header.Set(UserIDHeader, user)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestAPI_RequiresUser(t *testing.T) {
	env := newTestEnv(t, 0, 5)

	var errResp errorResponse
	if status := env.do(t, http.MethodGet, "/api/setlists?artist=Band", "", nil, &errResp); status != http.StatusUnauthorized {
		t.Errorf("status = %d, expected 401", status)
	}
	if errResp.Error != "missing_user" {
		t.Errorf("error = %q", errResp.Error)
	}
}

func TestAPI_Setlists(t *testing.T) {
	env := newTestEnv(t, 0, 5)

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"By artist", "Band", http.StatusOK},
		{"By setlist URL", "https://www.setlist.fm/setlist/band/2024/venue-63de4613.html", http.StatusOK},
		{"Unknown artist", "Nobody", http.StatusNotFound},
		{"Missing query", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp setlistsResponse
			var out any = &resp
			if tt.status != http.StatusOK {
				out = &errorResponse{}
			}
			status := env.do(t, http.MethodGet, "/api/setlists?artist="+url.QueryEscape(tt.query), "u1", nil, out)
			if status != tt.status {
				t.Fatalf("status = %d, expected %d", status, tt.status)
			}
			if tt.status == http.StatusOK && (len(resp.Setlists) != 1 || resp.Setlists[0].ID != "63de4613") {
				t.Errorf("setlists = %+v", resp.Setlists)
			}
		})
	}
}

func TestAPI_PreviewToggleExport(t *testing.T) {
	env := newTestEnv(t, 0, 5)

	var preview previewResponse
	status := env.do(t, http.MethodPost, "/api/preview", "u1", previewRequest{
		SetlistID: "63de4613",
		Settings:  core.FilterSettings{ExcludeDuplicateSongs: true},
	}, &preview)
	if status != http.StatusCreated {
		t.Fatalf("create preview status = %d", status)
	}
	if preview.State != "reviewing" {
		t.Errorf("state = %q, expected reviewing", preview.State)
	}
	if len(preview.Tracks) != 5 || preview.Publish != 3 {
		t.Fatalf("tracks = %d publish = %d, expected 5 and 3", len(preview.Tracks), preview.Publish)
	}

	// another user cannot see the session
	if status := env.do(t, http.MethodGet, "/api/preview/"+preview.SessionID, "u2", nil, &errorResponse{}); status != http.StatusNotFound {
		t.Errorf("foreign session status = %d, expected 404", status)
	}

	// drop the opener
	var toggled previewResponse
	if status := env.do(t, http.MethodPost, "/api/preview/"+preview.SessionID+"/toggle", "u1", toggleRequest{Index: 0}, &toggled); status != http.StatusOK {
		t.Fatalf("toggle status = %d", status)
	}
	if !toggled.Tracks[0].Excluded || toggled.Publish != 2 {
		t.Errorf("after toggle: excluded=%v publish=%d", toggled.Tracks[0].Excluded, toggled.Publish)
	}

	// unresolved rows cannot be toggled
	if status := env.do(t, http.MethodPost, "/api/preview/"+preview.SessionID+"/toggle", "u1", toggleRequest{Index: 2}, &errorResponse{}); status != http.StatusBadRequest {
		t.Errorf("toggle unresolved status = %d, expected 400", status)
	}

	var updated previewResponse
	if status := env.do(t, http.MethodPut, "/api/preview/"+preview.SessionID+"/settings", "u1",
		core.FilterSettings{HideSongsNotFound: true}, &updated); status != http.StatusOK {
		t.Fatalf("settings status = %d", status)
	}
	if len(updated.Tracks) != 4 || !updated.Tracks[0].Excluded || updated.Publish != 3 {
		t.Errorf("after settings: rows=%d opener excluded=%v publish=%d", len(updated.Tracks), updated.Tracks[0].Excluded, updated.Publish)
	}

	var result core.PublishResult
	status = env.do(t, http.MethodPost, "/api/export", "u1", exportRequest{SessionID: preview.SessionID, Name: "Band live"}, &result)
	if status != http.StatusCreated {
		t.Fatalf("export status = %d", status)
	}
	if result.PlaylistID != "remote1" || result.Status != core.PublishFull {
		t.Errorf("result = %+v", result)
	}
	want := []string{"spotify:track:hit", "spotify:track:hit", "spotify:track:closer"}
	if strings.Join(env.provider.added, ",") != strings.Join(want, ",") {
		t.Errorf("added = %v, expected %v", env.provider.added, want)
	}

	// a finished session cannot publish again
	if status := env.do(t, http.MethodPost, "/api/export", "u1", exportRequest{SessionID: preview.SessionID, Name: "again"}, &errorResponse{}); status != http.StatusConflict {
		t.Errorf("republish status = %d, expected 409", status)
	}
	if env.provider.created != 1 {
		t.Errorf("created %d playlists, expected 1", env.provider.created)
	}

	var stored []core.StoredPlaylist
	if status := env.do(t, http.MethodGet, "/api/playlists", "u1", nil, &stored); status != http.StatusOK {
		t.Fatalf("list status = %d", status)
	}
	if len(stored) != 1 || stored[0].CatalogID != "remote1" || len(stored[0].Songs) != 3 {
		t.Fatalf("stored = %+v", stored)
	}

	if status := env.do(t, http.MethodDelete, "/api/playlists/"+stored[0].ID, "u2", nil, &errorResponse{}); status != http.StatusNotFound {
		t.Errorf("foreign delete status = %d, expected 404", status)
	}
	if status := env.do(t, http.MethodDelete, "/api/playlists/"+stored[0].ID, "u1", nil, nil); status != http.StatusNoContent {
		t.Errorf("delete status = %d, expected 204", status)
	}
}

func TestAPI_ExportErrors(t *testing.T) {
	env := newTestEnv(t, 0, 5)

	newSession := func() string {
		var preview previewResponse
		if status := env.do(t, http.MethodPost, "/api/preview", "u1", previewRequest{SetlistID: "63de4613"}, &preview); status != http.StatusCreated {
			t.Fatalf("create preview status = %d", status)
		}
		return preview.SessionID
	}

	t.Run("Missing name", func(t *testing.T) {
		var errResp errorResponse
		status := env.do(t, http.MethodPost, "/api/export", "u1", exportRequest{SessionID: newSession()}, &errResp)
		if status != http.StatusBadRequest || errResp.Error != string(core.ExportNoName) {
			t.Errorf("status = %d error = %q", status, errResp.Error)
		}
	})

	t.Run("Provider rejects then retry succeeds", func(t *testing.T) {
		id := newSession()
		env.provider.mu.Lock()
		env.provider.createErr = &core.ProviderError{Status: 403, Message: "forbidden"}
		env.provider.mu.Unlock()

		var errResp errorResponse
		status := env.do(t, http.MethodPost, "/api/export", "u1", exportRequest{SessionID: id, Name: "n"}, &errResp)
		if status != http.StatusBadGateway || errResp.Error != string(core.ExportPlaylistCreation) {
			t.Errorf("status = %d error = %q", status, errResp.Error)
		}

		env.provider.mu.Lock()
		env.provider.createErr = nil
		env.provider.mu.Unlock()

		if status := env.do(t, http.MethodPost, "/api/export", "u1", exportRequest{SessionID: id, Name: "n"}, &core.PublishResult{}); status != http.StatusCreated {
			t.Errorf("retry status = %d, expected 201", status)
		}
	})

	t.Run("Unauthorized", func(t *testing.T) {
		id := newSession()
		env.provider.mu.Lock()
		env.provider.createErr = core.ErrUnauthorized
		env.provider.mu.Unlock()
		defer func() {
			env.provider.mu.Lock()
			env.provider.createErr = nil
			env.provider.mu.Unlock()
		}()

		if status := env.do(t, http.MethodPost, "/api/export", "u1", exportRequest{SessionID: id, Name: "n"}, &errorResponse{}); status != http.StatusUnauthorized {
			t.Errorf("status = %d, expected 401", status)
		}
	})

	t.Run("Unknown session", func(t *testing.T) {
		if status := env.do(t, http.MethodPost, "/api/export", "u1", exportRequest{SessionID: "nope", Name: "n"}, &errorResponse{}); status != http.StatusNotFound {
			t.Errorf("status = %d, expected 404", status)
		}
	})

	t.Run("Discarded session", func(t *testing.T) {
		id := newSession()
		if status := env.do(t, http.MethodDelete, "/api/preview/"+id, "u1", nil, nil); status != http.StatusNoContent {
			t.Fatalf("discard status = %d", status)
		}
		if status := env.do(t, http.MethodPost, "/api/export", "u1", exportRequest{SessionID: id, Name: "n"}, &errorResponse{}); status != http.StatusNotFound {
			t.Errorf("status = %d, expected 404", status)
		}
	})
}

func TestAPI_PredictQuota(t *testing.T) {
	env := newTestEnv(t, 0, 2)

	for i := range 2 {
		var prediction core.Prediction
		if status := env.do(t, http.MethodPost, "/api/predict", "u1", predictRequest{Artist: "Band"}, &prediction); status != http.StatusOK {
			t.Fatalf("predict %d status = %d", i, status)
		}
		if len(prediction.Candidates) != 3 || len(prediction.Merged.Entries()) != 3 {
			t.Errorf("prediction = %+v", prediction)
		}
		if prediction.Remaining != 1-i {
			t.Errorf("remaining = %d, expected %d", prediction.Remaining, 1-i)
		}
	}

	req, _ := json.Marshal(predictRequest{Artist: "Band"})
	httpReq, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, env.server.URL+"/api/predict", bytes.NewReader(req))
	httpReq.Header.Set(UserIDHeader, "u1")
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, expected 429", resp.StatusCode)
	}
	var errResp errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if errResp.Error != "quota_exceeded" || errResp.RetryAfter == nil {
		t.Errorf("error response = %+v", errResp)
	}
	if errResp.RetryAfter != nil && !errResp.RetryAfter.After(time.Now()) {
		t.Errorf("retryAfter %v is not in the future", errResp.RetryAfter)
	}
	if got := testutil.ToFloat64(env.metrics.QuotaDeniedTotal); got != 1 {
		t.Errorf("quota denied metric = %v, expected 1", got)
	}

	// another user still has quota
	if status := env.do(t, http.MethodPost, "/api/predict", "u2", predictRequest{Artist: "Band"}, &core.Prediction{}); status != http.StatusOK {
		t.Errorf("second user status = %d, expected 200", status)
	}
}

func TestAPI_Throttle(t *testing.T) {
	env := newTestEnv(t, 2, 5)

	for range 2 {
		if status := env.do(t, http.MethodGet, "/api/setlists?artist=Band", "u1", nil, &setlistsResponse{}); status != http.StatusOK {
			t.Fatalf("status = %d", status)
		}
	}
	if status := env.do(t, http.MethodGet, "/api/setlists?artist=Band", "u1", nil, &errorResponse{}); status != http.StatusTooManyRequests {
		t.Errorf("status = %d, expected 429", status)
	}
	if got := testutil.ToFloat64(env.metrics.ThrottledTotal.WithLabelValues("setlists")); got != 1 {
		t.Errorf("throttled metric = %v, expected 1", got)
	}

	// unthrottled routes and other users are unaffected
	if status := env.do(t, http.MethodGet, "/api/playlists", "u1", nil, &[]core.StoredPlaylist{}); status != http.StatusOK {
		t.Errorf("playlists status = %d", status)
	}
	if status := env.do(t, http.MethodGet, "/api/setlists?artist=Band", "u2", nil, &setlistsResponse{}); status != http.StatusOK {
		t.Errorf("second user status = %d", status)
	}
}

func TestWritePipelineError(t *testing.T) {
	api := NewAPI(APIDeps{}, zap.NewNop())

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"Artist not found", core.ErrArtistNotFound, http.StatusNotFound, "not_found"},
		{"Stored playlist missing", store.ErrNotFound, http.StatusNotFound, "not_found"},
		{"Predictor off", core.ErrPredictorNotConfigured, http.StatusServiceUnavailable, "predictor_not_configured"},
		{"Expired token", core.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{"Name too long", &core.ExportError{Kind: core.ExportNameTooLong, Err: core.ErrNameTooLong}, http.StatusBadRequest, "name_too_long"},
		{"Unexpected", errors.New("boom"), http.StatusBadGateway, "upstream_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			api.writePipelineError(rec, tt.err, http.StatusBadGateway)

			if rec.Code != tt.status {
				t.Errorf("status = %d, expected %d", rec.Code, tt.status)
			}
			var resp errorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("invalid body: %v", err)
			}
			if resp.Error != tt.code {
				t.Errorf("error = %q, expected %q", resp.Error, tt.code)
			}
		})
	}
}
