// Package text parses user input into artist queries and setlist.fm or Spotify references.
package text

import (
	"errors"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	// MinPartsForTrackURI is the number of colon-separated parts in "spotify:track:<id>"
	MinPartsForTrackURI = 3
)

var (
	// ErrNotSetlistURL is returned for URLs that do not point at a setlist.fm setlist page.
	ErrNotSetlistURL = errors.New("not a setlist.fm setlist URL")
	// ErrNotTrackReference is returned when no Spotify track id can be extracted.
	ErrNotTrackReference = errors.New("not a spotify track reference")

	urlRegex        = regexp.MustCompile(`https?://\S+`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
	// setlist ids are 7-8 lowercase hex digits at the end of the page slug
	setlistSlugRegex = regexp.MustCompile(`-([0-9a-f]{7,8})\.html$`)

	setlistDomains = map[string]bool{
		"setlist.fm":     true,
		"www.setlist.fm": true,
		"m.setlist.fm":   true,
	}

	spotifyDomains = map[string]bool{
		"open.spotify.com": true,
		"spotify.com":      true,
	}
)

// InputKind classifies a user query.
type InputKind int

const (
	// InputArtistName is free text to search artists with
	InputArtistName InputKind = iota
	// InputSetlistURL references one setlist.fm setlist
	InputSetlistURL
)

// Input is a parsed user query.
type Input struct {
	Kind      InputKind
	Text      string
	SetlistID string
}

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// ParseInput normalizes text and detects a setlist.fm URL in it.
func (p *Parser) ParseInput(text string) Input {
	text = p.normalizeText(text)

	for _, raw := range p.extractURLs(text) {
		if id, err := ParseSetlistURL(raw); err == nil {
			return Input{Kind: InputSetlistURL, Text: text, SetlistID: id}
		}
	}

	return Input{Kind: InputArtistName, Text: text}
}

func (p *Parser) normalizeText(text string) string {
	text = norm.NFKC.String(text)
	text = whitespaceRegex.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func (p *Parser) extractURLs(text string) []string {
	matches := urlRegex.FindAllString(text, -1)
	var cleanURLs []string

	for _, match := range matches {
		if cleaned := cleanURL(match); cleaned != "" {
			cleanURLs = append(cleanURLs, cleaned)
		}
	}

	return cleanURLs
}

func cleanURL(rawURL string) string {
	rawURL = strings.TrimRight(rawURL, ".,!?;")

	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return ""
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}

	q := u.Query()
	for _, param := range []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "si"} {
		q.Del(param)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

// ParseSetlistURL returns the setlist id of a setlist.fm setlist page URL, e.g.
// https://www.setlist.fm/setlist/the-beatles/1964/hollywood-bowl-los-angeles-ca-63de4613.html.
func ParseSetlistURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", ErrNotSetlistURL
	}
	if !setlistDomains[strings.ToLower(u.Hostname())] {
		return "", ErrNotSetlistURL
	}

	path := strings.Trim(u.Path, "/")
	if !strings.HasPrefix(path, "setlist/") {
		return "", ErrNotSetlistURL
	}

	m := setlistSlugRegex.FindStringSubmatch(path)
	if m == nil {
		return "", ErrNotSetlistURL
	}
	return m[1], nil
}

// SpotifyTrackID extracts the track id from a "spotify:track:<id>" URI or an open.spotify.com track URL.
func SpotifyTrackID(ref string) (string, error) {
	if strings.HasPrefix(ref, "spotify:track:") {
		parts := strings.Split(ref, ":")
		if len(parts) >= MinPartsForTrackURI && parts[2] != "" {
			return parts[2], nil
		}
		return "", ErrNotTrackReference
	}

	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		return "", ErrNotTrackReference
	}

	u, err := url.Parse(ref)
	if err != nil || !spotifyDomains[strings.ToLower(u.Hostname())] {
		return "", ErrNotTrackReference
	}

	pathParts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, part := range pathParts {
		if part == "track" && i+1 < len(pathParts) && pathParts[i+1] != "" {
			return pathParts[i+1], nil
		}
	}

	return "", ErrNotTrackReference
}
