package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"setlistify/internal/core"
)

// ErrMalformedPrediction is returned when the model output cannot be read as setlists.
var ErrMalformedPrediction = errors.New("malformed prediction")

const (
	defaultTemperature  = 0.4
	maxTokensPrediction = 4000
)

const predictionSystemPrompt = `You are a concert setlist analyst. Given an artist's recent setlists, predict the setlist of their next show.

Return JSON in this exact format:
{
  "setlists": [
    {
      "songs": [
        {"name": "Song Title", "tape": false, "cover": ""}
      ]
    }
  ]
}

Rules:
- Return exactly 3 setlists ordered by confidence: most likely, likely, higher variance
- Keep songs in performance order, encore songs last
- "tape" is true for songs played from a recording
- "cover" names the original artist when the song is a cover, otherwise ""
- Only use song titles that appear in the history unless a new release is strongly implied

Respond with valid JSON only.`

type predictionResponse struct {
	Setlists []struct {
		Songs []struct {
			Name  string `json:"name"`
			Tape  bool   `json:"tape"`
			Cover string `json:"cover"`
		} `json:"songs"`
	} `json:"setlists"`
}

// buildPredictionPrompt lists each past show on one block, most recent first.
func buildPredictionPrompt(artist string, past []core.Setlist) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Artist: %s\n", artist)
	fmt.Fprintf(&b, "Recent setlists (%d, most recent first):\n", len(past))

	for i := range past {
		s := &past[i]
		fmt.Fprintf(&b, "\n#%d %s", i+1, s.EventDateISO)
		if s.VenueName != "" {
			fmt.Fprintf(&b, " at %s", s.VenueName)
			if s.City != "" {
				fmt.Fprintf(&b, ", %s", s.City)
			}
		}
		b.WriteString("\n")

		for _, seg := range s.Segments {
			if seg.Encore > 0 {
				fmt.Fprintf(&b, "Encore %d:\n", seg.Encore)
			}
			for _, e := range seg.Entries {
				if e.IsPlaceholder() || e.Name == "" {
					continue
				}
				b.WriteString("- ")
				b.WriteString(e.Name)
				if e.IsCover() {
					fmt.Fprintf(&b, " (cover of %s)", e.CoverOriginalArtist)
				}
				if e.IsTapePlayed {
					b.WriteString(" (tape)")
				}
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

// parsePrediction reads the model output into at most core.PredictionCandidates setlists.
func parsePrediction(content, artist string) ([]core.Setlist, error) {
	raw, err := extractJSONObject(content)
	if err != nil {
		return nil, err
	}

	var response predictionResponse
	if err := json.Unmarshal([]byte(raw), &response); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPrediction, err)
	}

	var setlists []core.Setlist
	for _, candidate := range response.Setlists {
		var entries []core.SetlistEntry
		for _, song := range candidate.Songs {
			name := strings.TrimSpace(song.Name)
			if name == "" {
				continue
			}
			entries = append(entries, core.SetlistEntry{
				Name:                name,
				IsTapePlayed:        song.Tape,
				CoverOriginalArtist: strings.TrimSpace(song.Cover),
			})
		}
		if len(entries) == 0 {
			continue
		}
		setlists = append(setlists, core.NewSingleSegmentSetlist(artist, "", entries))
	}

	if len(setlists) < core.PredictionCandidates {
		return nil, fmt.Errorf("%w: got %d usable setlists, need %d",
			ErrMalformedPrediction, len(setlists), core.PredictionCandidates)
	}
	return setlists[:core.PredictionCandidates], nil
}

// extractJSONObject strips markdown fences and surrounding prose from a model reply.
func extractJSONObject(content string) (string, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("%w: no JSON object in response", ErrMalformedPrediction)
	}
	return content[start : end+1], nil
}
