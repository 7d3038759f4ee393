package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"setlistify/internal/core"
	"setlistify/internal/flood"
	"setlistify/internal/store"
	"setlistify/pkg/text"
)

const (
	// UserIDHeader carries the caller identity; authentication happens upstream
	UserIDHeader = "X-User-ID"

	maxBodyBytes = 8 << 20
)

// API serves the JSON endpoints over a Pipeline.
type API struct {
	pipeline  *core.Pipeline
	playlists core.PlaylistStore
	throttle  *flood.Floodgate
	metrics   *Metrics
	parser    *text.Parser
	sessions  *sessionStore
	logger    *zap.Logger
	public    bool
}

// APIDeps wires an API. Playlists and Throttle may be nil.
type APIDeps struct {
	Pipeline        *core.Pipeline
	Playlists       core.PlaylistStore
	Throttle        *flood.Floodgate
	Metrics         *Metrics
	PublicPlaylists bool
}

func NewAPI(deps APIDeps, logger *zap.Logger) *API {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewMetrics("")
	}
	return &API{
		pipeline:  deps.Pipeline,
		playlists: deps.Playlists,
		throttle:  deps.Throttle,
		metrics:   metrics,
		parser:    text.NewParser(),
		sessions:  newSessionStore(),
		logger:    logger,
		public:    deps.PublicPlaylists,
	}
}

type errorResponse struct {
	Error      string     `json:"error"`
	Message    string     `json:"message,omitempty"`
	RetryAfter *time.Time `json:"retryAfter,omitempty"`
}

type setlistsResponse struct {
	Artist   core.Artist    `json:"artist"`
	Setlists []core.Setlist `json:"setlists"`
}

type predictRequest struct {
	Artist   string         `json:"artist"`
	Setlists []core.Setlist `json:"setlists"`
}

type previewRequest struct {
	Setlist    *core.Setlist       `json:"setlist"`
	SetlistID  string              `json:"setlistId"`
	SetlistURL string              `json:"setlistUrl"`
	Settings   core.FilterSettings `json:"settings"`
}

type previewResponse struct {
	SessionID string              `json:"sessionId"`
	State     string              `json:"state"`
	Setlist   core.Setlist        `json:"setlist"`
	Settings  core.FilterSettings `json:"settings"`
	Tracks    []core.TrackView    `json:"tracks"`
	Publish   int                 `json:"publishCount"`
}

type toggleRequest struct {
	Index int `json:"index"`
}

type exportRequest struct {
	SessionID   string `json:"sessionId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Public      *bool  `json:"public"`
	// base64 in JSON
	CoverImage []byte `json:"coverImage"`
}

func (a *API) handleSetlists(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("artist")
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing_artist", "artist query parameter is required")
		return
	}

	input := a.parser.ParseInput(query)
	if input.Kind == text.InputSetlistURL {
		setlist, err := a.pipeline.LoadSetlist(r.Context(), input.SetlistID)
		if err != nil {
			a.writePipelineError(w, err, http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, setlistsResponse{
			Artist:   core.Artist{ID: setlist.ArtistID, Name: setlist.PerformingArtistName},
			Setlists: []core.Setlist{*setlist},
		})
		return
	}

	artist, setlists, err := a.pipeline.LoadSetlists(r.Context(), input.Text)
	if err != nil {
		a.writePipelineError(w, err, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, setlistsResponse{Artist: artist, Setlists: setlists})
}

func (a *API) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if !decodeBody(w, r, &req) {
		return
	}

	past := req.Setlists
	if len(past) == 0 {
		if req.Artist == "" {
			writeError(w, http.StatusBadRequest, "missing_artist", "artist or setlists is required")
			return
		}
		var err error
		if _, past, err = a.pipeline.LoadSetlists(r.Context(), req.Artist); err != nil {
			a.writePipelineError(w, err, http.StatusBadGateway)
			return
		}
	}

	prediction, err := a.pipeline.Predict(r.Context(), userID(r), past)
	if err != nil {
		a.writePipelineError(w, err, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, prediction)
}

func (a *API) handleCreatePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !decodeBody(w, r, &req) {
		return
	}

	setlistID := req.SetlistID
	if req.SetlistURL != "" {
		id, err := text.ParseSetlistURL(req.SetlistURL)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_setlist_url", err.Error())
			return
		}
		setlistID = id
	}
	if req.Setlist == nil && setlistID == "" {
		writeError(w, http.StatusBadRequest, "missing_setlist", "setlist, setlistId or setlistUrl is required")
		return
	}

	sess := a.sessions.create(userID(r))
	a.metrics.SetActiveSessions(a.sessions.count())

	if err := sess.Machine.Transition(core.StateLoading); err != nil {
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
		return
	}

	setlist := req.Setlist
	if setlist == nil {
		loaded, err := a.pipeline.LoadSetlist(r.Context(), setlistID)
		if err != nil {
			a.failSession(sess)
			a.writePipelineError(w, err, http.StatusBadGateway)
			return
		}
		setlist = loaded
	}

	preview, err := a.pipeline.PrepareExport(r.Context(), *setlist, req.Settings)
	if err != nil {
		a.failSession(sess)
		a.writePipelineError(w, err, http.StatusBadGateway)
		return
	}

	sess.mu.Lock()
	sess.Preview = preview
	sess.mu.Unlock()
	if err := sess.Machine.Transition(core.StateReviewing); err != nil {
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, a.previewResponse(sess))
}

func (a *API) handleGetPreview(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.lookupSession(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a.previewResponse(sess))
}

func (a *API) handleDiscardPreview(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.lookupSession(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	a.sessions.remove(sess.ID)
	a.metrics.SetActiveSessions(a.sessions.count())
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleToggle(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.lookupSession(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	var req toggleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !editable(sess) {
		writeError(w, http.StatusConflict, "invalid_state", "session is "+sess.Machine.State().String())
		return
	}

	sess.mu.Lock()
	resolved := sess.Preview.Resolved
	if req.Index < 0 || req.Index >= len(resolved) {
		sess.mu.Unlock()
		writeError(w, http.StatusBadRequest, "invalid_index", "index "+strconv.Itoa(req.Index)+" out of range")
		return
	}
	if !resolved[req.Index].Found() {
		sess.mu.Unlock()
		writeError(w, http.StatusBadRequest, "track_not_found", "unresolved tracks are never published")
		return
	}
	sess.Preview.Filter.Toggle(resolved[req.Index].CatalogID, req.Index)
	sess.mu.Unlock()

	writeJSON(w, http.StatusOK, a.previewResponse(sess))
}

func (a *API) handleSettings(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.lookupSession(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	var settings core.FilterSettings
	if !decodeBody(w, r, &settings) {
		return
	}
	if !editable(sess) {
		writeError(w, http.StatusConflict, "invalid_state", "session is "+sess.Machine.State().String())
		return
	}

	sess.mu.Lock()
	sess.Preview.Filter.SetSettings(settings)
	sess.mu.Unlock()

	writeJSON(w, http.StatusOK, a.previewResponse(sess))
}

func (a *API) handleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sess, ok := a.lookupSession(w, r, req.SessionID)
	if !ok {
		return
	}

	if err := sess.Machine.Transition(core.StatePublishing); err != nil {
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
		return
	}

	public := a.public
	if req.Public != nil {
		public = *req.Public
	}

	sess.mu.Lock()
	result, err := a.pipeline.Export(r.Context(), sess.UserID, sess.Preview, core.ExportRequest{
		Name:        req.Name,
		Description: req.Description,
		Public:      public,
		CoverImage:  req.CoverImage,
	})
	if err == nil {
		sess.Result = result
	}
	sess.mu.Unlock()

	if err != nil {
		a.failSession(sess)
		a.writePipelineError(w, err, http.StatusInternalServerError)
		return
	}
	if err := sess.Machine.Transition(core.StateDone); err != nil {
		a.logger.Error("Export finished in unexpected state", zap.String("sessionID", sess.ID), zap.Error(err))
	}

	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleListPlaylists(w http.ResponseWriter, r *http.Request) {
	if a.playlists == nil {
		writeJSON(w, http.StatusOK, []core.StoredPlaylist{})
		return
	}

	playlists, err := a.playlists.ListPlaylists(r.Context(), userID(r))
	if err != nil {
		a.writePipelineError(w, err, http.StatusInternalServerError)
		return
	}
	if playlists == nil {
		playlists = []core.StoredPlaylist{}
	}
	writeJSON(w, http.StatusOK, playlists)
}

func (a *API) handleDeletePlaylist(w http.ResponseWriter, r *http.Request) {
	if a.playlists == nil {
		writeError(w, http.StatusNotFound, "not_found", "playlist storage is disabled")
		return
	}

	if err := a.playlists.DeletePlaylist(r.Context(), userID(r), r.PathValue("id")); err != nil {
		a.writePipelineError(w, err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) lookupSession(w http.ResponseWriter, r *http.Request, id string) (*exportSession, bool) {
	sess, ok := a.sessions.get(id, userID(r))
	if !ok {
		writeError(w, http.StatusNotFound, "session_not_found", "no export session "+id)
		return nil, false
	}
	return sess, true
}

func (a *API) failSession(sess *exportSession) {
	if err := sess.Machine.Transition(core.StateFailed); err != nil {
		a.logger.Warn("Could not mark session failed", zap.String("sessionID", sess.ID), zap.Error(err))
	}
}

func (a *API) previewResponse(sess *exportSession) previewResponse {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	resp := previewResponse{
		SessionID: sess.ID,
		State:     sess.Machine.State().String(),
	}
	if sess.Preview != nil {
		resp.Setlist = sess.Preview.Setlist
		resp.Settings = sess.Preview.Filter.Settings()
		resp.Tracks = sess.Preview.Filter.View()
		resp.Publish = len(sess.Preview.Filter.FinalTracks())
	}
	return resp
}

func editable(sess *exportSession) bool {
	state := sess.Machine.State()
	return state == core.StateReviewing || state == core.StateFailed
}

// writePipelineError maps core and store errors onto status codes; fallback covers the rest.
func (a *API) writePipelineError(w http.ResponseWriter, err error, fallback int) {
	var (
		quotaErr  *core.QuotaDeniedError
		exportErr *core.ExportError
	)

	switch {
	case errors.As(err, &quotaErr):
		retryAfter := quotaErr.RetryAfter
		if secs := int(time.Until(retryAfter).Seconds()); secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Error:      "quota_exceeded",
			Message:    core.ErrQuotaExceeded.Error(),
			RetryAfter: &retryAfter,
		})
	case errors.As(err, &exportErr):
		status := http.StatusInternalServerError
		switch {
		case exportErr.IsValidation():
			status = http.StatusBadRequest
		case exportErr.Kind == core.ExportUnauthorized:
			status = http.StatusUnauthorized
		case exportErr.Kind == core.ExportPlaylistCreation:
			status = http.StatusBadGateway
		}
		writeError(w, status, string(exportErr.Kind), exportErr.Error())
	case errors.Is(err, core.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
	case errors.Is(err, core.ErrArtistNotFound), errors.Is(err, core.ErrNoSetlists), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, core.ErrPredictorNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "predictor_not_configured", err.Error())
	default:
		a.logger.Error("Request failed", zap.Error(err))
		writeError(w, fallback, "upstream_error", err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func userID(r *http.Request) string {
	return r.Header.Get(UserIDHeader)
}

// register mounts every endpoint on mux. Throttled routes are the ones that reach external providers.
func (a *API) register(mux *http.ServeMux) {
	mux.Handle("GET /api/setlists", a.route("setlists", true, a.handleSetlists))
	mux.Handle("POST /api/predict", a.route("predict", true, a.handlePredict))
	mux.Handle("POST /api/preview", a.route("preview", true, a.handleCreatePreview))
	mux.Handle("GET /api/preview/{id}", a.route("preview_get", false, a.handleGetPreview))
	mux.Handle("DELETE /api/preview/{id}", a.route("preview_discard", false, a.handleDiscardPreview))
	mux.Handle("POST /api/preview/{id}/toggle", a.route("preview_toggle", false, a.handleToggle))
	mux.Handle("PUT /api/preview/{id}/settings", a.route("preview_settings", false, a.handleSettings))
	mux.Handle("POST /api/export", a.route("export", true, a.handleExport))
	mux.Handle("GET /api/playlists", a.route("playlists", false, a.handleListPlaylists))
	mux.Handle("DELETE /api/playlists/{id}", a.route("playlist_delete", false, a.handleDeletePlaylist))
}

func (a *API) route(name string, throttled bool, h http.HandlerFunc) http.Handler {
	var next http.Handler = h
	if throttled && a.throttle != nil {
		next = a.withThrottle(name, next)
	}
	return a.instrument(name, requireUser(next))
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID(r) == "" {
			writeError(w, http.StatusUnauthorized, "missing_user", UserIDHeader+" header is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) withThrottle(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retryIn := a.throttle.Allow(name, userID(r))
		if !allowed {
			a.metrics.RecordThrottled(name)
			secs := max(int(retryIn.Seconds()), 1)
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeError(w, http.StatusTooManyRequests, "throttled", "too many requests, retry in "+strconv.Itoa(secs)+"s")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (a *API) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.metrics.RecordRequest(name, strconv.Itoa(rec.status), time.Since(start))

		a.logger.Debug("Handled request",
			zap.String("route", name),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}
