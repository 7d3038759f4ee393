package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"setlistify/internal/core"
)

const validPrediction = `{"setlists": [
  {"songs": [{"name": "Intro", "tape": true}, {"name": "Song A"}, {"name": "Song B", "cover": "Other Band"}]},
  {"songs": [{"name": "Song A"}, {"name": "Song C"}]},
  {"songs": [{"name": "Song D"}, {"name": "  "}]}
]}`

func samplePast() []core.Setlist {
	return []core.Setlist{
		{
			EventDateISO:         "2024-05-10",
			PerformingArtistName: "The Band",
			VenueName:            "Arena",
			City:                 "Berlin",
			Segments: []core.SetlistSegment{
				{Entries: []core.SetlistEntry{
					{Name: "", IsTapePlayed: true},
					{Name: "Song A"},
					{Name: "Song B", CoverOriginalArtist: "Other Band"},
				}},
				{Encore: 1, Entries: []core.SetlistEntry{{Name: "Song C", IsTapePlayed: true}}},
			},
		},
	}
}

func TestParsePrediction(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"Plain JSON", validPrediction, false},
		{"Markdown fenced", "```json\n" + validPrediction + "\n```", false},
		{"Prose around JSON", "Here you go:\n" + validPrediction + "\nEnjoy!", false},
		{"Too few setlists", `{"setlists": [{"songs": [{"name": "A"}]}, {"songs": [{"name": "B"}]}]}`, true},
		{"Empty setlists do not count", `{"setlists": [{"songs": [{"name": "A"}]}, {"songs": []}, {"songs": [{"name": "B"}]}]}`, true},
		{"No JSON", "I cannot predict that.", true},
		{"Broken JSON", `{"setlists": [`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setlists, err := parsePrediction(tt.content, "The Band")
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedPrediction) {
					t.Errorf("parsePrediction() error = %v, want ErrMalformedPrediction", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parsePrediction() error = %v", err)
			}
			if len(setlists) != core.PredictionCandidates {
				t.Fatalf("got %d setlists, want %d", len(setlists), core.PredictionCandidates)
			}
		})
	}
}

func TestParsePrediction_Entries(t *testing.T) {
	setlists, err := parsePrediction(validPrediction, "The Band")
	if err != nil {
		t.Fatalf("parsePrediction() error = %v", err)
	}

	first := setlists[0]
	if first.PerformingArtistName != "The Band" {
		t.Errorf("artist = %q", first.PerformingArtistName)
	}
	entries := first.Entries()
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if !entries[0].IsTapePlayed || entries[0].Name != "Intro" {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[2].CoverOriginalArtist != "Other Band" {
		t.Errorf("entry 2 cover = %q", entries[2].CoverOriginalArtist)
	}

	// blank names are dropped
	if got := len(setlists[2].Entries()); got != 1 {
		t.Errorf("third setlist has %d entries, want 1", got)
	}
}

func TestParsePrediction_TruncatesExtra(t *testing.T) {
	content := `{"setlists": [
		{"songs": [{"name": "1"}]}, {"songs": [{"name": "2"}]},
		{"songs": [{"name": "3"}]}, {"songs": [{"name": "4"}]}
	]}`
	setlists, err := parsePrediction(content, "x")
	if err != nil {
		t.Fatalf("parsePrediction() error = %v", err)
	}
	if len(setlists) != 3 || setlists[2].Entries()[0].Name != "3" {
		t.Errorf("parsePrediction() = %+v", setlists)
	}
}

func TestBuildPredictionPrompt(t *testing.T) {
	prompt := buildPredictionPrompt("The Band", samplePast())

	for _, want := range []string{
		"Artist: The Band",
		"#1 2024-05-10 at Arena, Berlin",
		"- Song A\n",
		"- Song B (cover of Other Band)",
		"Encore 1:",
		"- Song C (tape)",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "- \n") {
		t.Errorf("prompt should skip placeholders:\n%s", prompt)
	}
}

func TestNewProvider(t *testing.T) {
	logger := zap.NewNop()

	p, err := NewProvider(&core.LLMConfig{Provider: "none"}, logger)
	if err != nil {
		t.Fatalf("NewProvider(none) error = %v", err)
	}
	if p.Enabled() || p.Name() != "none" {
		t.Errorf("none provider should be disabled")
	}
	if _, err := p.PredictSetlists(context.Background(), samplePast()); !errors.Is(err, core.ErrPredictorNotConfigured) {
		t.Errorf("PredictSetlists() error = %v, want ErrPredictorNotConfigured", err)
	}

	if _, err := NewProvider(&core.LLMConfig{Provider: "bogus"}, logger); err == nil {
		t.Error("expected error for unsupported provider")
	}
	if _, err := NewProvider(&core.LLMConfig{Provider: "openai"}, logger); err == nil {
		t.Error("expected error for openai without key")
	}
	if _, err := NewProvider(&core.LLMConfig{Provider: "anthropic"}, logger); err == nil {
		t.Error("expected error for anthropic without key")
	}
}

func TestOllamaPrediction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req OllamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if req.Model != "test-model" || req.Format != "json" || req.Stream {
			t.Errorf("unexpected request %+v", req)
		}
		if !strings.Contains(req.Prompt, "Song A") || req.System == "" {
			t.Errorf("prompt does not carry history")
		}
		_ = json.NewEncoder(w).Encode(OllamaResponse{Response: validPrediction, Done: true})
	}))
	defer server.Close()

	p, err := NewProvider(&core.LLMConfig{Provider: "ollama", Model: "test-model", BaseURL: server.URL + "/"}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if !p.Enabled() || p.Name() != "ollama" {
		t.Errorf("ollama provider should be enabled")
	}

	setlists, err := p.PredictSetlists(context.Background(), samplePast())
	if err != nil {
		t.Fatalf("PredictSetlists() error = %v", err)
	}
	if len(setlists) != 3 {
		t.Errorf("got %d setlists, want 3", len(setlists))
	}
}

func TestOllamaPrediction_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	p, err := NewProvider(&core.LLMConfig{Provider: "ollama", BaseURL: server.URL}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if _, err := p.PredictSetlists(context.Background(), samplePast()); err == nil {
		t.Error("expected error on 500")
	}
}

func TestPredictSetlists_NoHistory(t *testing.T) {
	p, _ := NewProvider(&core.LLMConfig{}, zap.NewNop())
	if _, err := p.PredictSetlists(context.Background(), nil); !errors.Is(err, core.ErrNoSetlists) {
		t.Errorf("PredictSetlists() error = %v, want ErrNoSetlists", err)
	}
}
