package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"setlistify/internal/core"
	"setlistify/pkg/text"
)

const cliUserID = "cli"

type exportOptions struct {
	name              string
	description       string
	public            bool
	coverPath         string
	setlistIndex      int
	predict           bool
	excludeCovers     bool
	excludeDuplicates bool
	excludeTape       bool
	exclude           []int
	dryRun            bool
}

func newExportCmd() *cobra.Command {
	opts := &exportOptions{}

	cmd := &cobra.Command{
		Use:   "export <artist | setlist.fm URL>",
		Short: "Export a setlist to a new Spotify playlist",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, strings.Join(args, " "), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.name, "name", "", "playlist name (default: artist and concert date)")
	f.StringVar(&opts.description, "description", "", "playlist description")
	f.BoolVar(&opts.public, "public", false, "create a public playlist")
	f.StringVar(&opts.coverPath, "cover", "", "JPEG or PNG cover image")
	f.IntVar(&opts.setlistIndex, "setlist-index", 0, "which past setlist to export, 0 is the most recent")
	f.BoolVar(&opts.predict, "predict", false, "export the predicted next setlist instead of a past one")
	f.BoolVar(&opts.excludeCovers, "exclude-covers", false, "leave out songs recorded by other artists")
	f.BoolVar(&opts.excludeDuplicates, "exclude-duplicates", false, "leave out repeated songs")
	f.BoolVar(&opts.excludeTape, "exclude-tape", false, "leave out songs played from tape")
	f.IntSliceVar(&opts.exclude, "exclude", nil, "track indices to toggle out of the playlist")
	f.BoolVar(&opts.dryRun, "dry-run", false, "resolve and print the tracks without creating a playlist")

	return cmd
}

func newPredictCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "predict <artist>",
		Short: "Predict the next setlist of an artist",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPredict(cmd, strings.Join(args, " "))
		},
	}
}

func runExport(cmd *cobra.Command, query string, opts *exportOptions) error {
	if err := validateConfig(true); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var cover []byte
	if opts.coverPath != "" {
		data, err := os.ReadFile(opts.coverPath)
		if err != nil {
			return fmt.Errorf("failed to read cover image: %w", err)
		}
		cover = data
	}

	svcs, err := initializeServices(ctx)
	if err != nil {
		return err
	}
	defer svcs.Close()

	setlist, err := selectSetlist(ctx, svcs.pipeline, query, opts)
	if err != nil {
		return err
	}

	preview, err := svcs.pipeline.PrepareExport(ctx, setlist, core.FilterSettings{
		ExcludeCovers:         opts.excludeCovers,
		ExcludeDuplicateSongs: opts.excludeDuplicates,
		ExcludePlayedOnTape:   opts.excludeTape,
	})
	if err != nil {
		return err
	}

	for _, idx := range opts.exclude {
		if idx < 0 || idx >= len(preview.Resolved) || !preview.Resolved[idx].Found() {
			return fmt.Errorf("cannot toggle track %d", idx)
		}
		preview.Filter.Toggle(preview.Resolved[idx].CatalogID, idx)
	}

	out := cmd.OutOrStdout()
	printPreview(out, preview)
	if opts.dryRun {
		return nil
	}

	name := opts.name
	if name == "" {
		name = defaultPlaylistName(setlist)
	}

	result, err := svcs.pipeline.Export(ctx, cliUserID, preview, core.ExportRequest{
		Name:        name,
		Description: opts.description,
		Public:      opts.public || config.App.PublicPlaylists,
		CoverImage:  cover,
	})
	if err != nil {
		return err
	}

	if result.IsPartial() {
		fmt.Fprintf(out, "⚠️  Playlist created with issues: %s\n", result.Issue)
	} else {
		fmt.Fprintln(out, "✅ Playlist created")
	}
	fmt.Fprintf(out, "%s\n", result.PlaylistURL)
	return nil
}

func selectSetlist(ctx context.Context, pipeline *core.Pipeline, query string, opts *exportOptions) (core.Setlist, error) {
	input := text.NewParser().ParseInput(query)
	if input.Kind == text.InputSetlistURL {
		setlist, err := pipeline.LoadSetlist(ctx, input.SetlistID)
		if err != nil {
			return core.Setlist{}, err
		}
		return *setlist, nil
	}

	_, setlists, err := pipeline.LoadSetlists(ctx, input.Text)
	if err != nil {
		return core.Setlist{}, err
	}

	if opts.predict {
		prediction, err := pipeline.Predict(ctx, cliUserID, setlists)
		if err != nil {
			return core.Setlist{}, err
		}
		return prediction.Merged, nil
	}

	if opts.setlistIndex < 0 || opts.setlistIndex >= len(setlists) {
		return core.Setlist{}, fmt.Errorf("setlist index %d out of range, %d setlists found", opts.setlistIndex, len(setlists))
	}
	return setlists[opts.setlistIndex], nil
}

func defaultPlaylistName(setlist core.Setlist) string {
	if setlist.EventDateISO == "" {
		return setlist.PerformingArtistName + " (predicted)"
	}
	name := setlist.PerformingArtistName + " " + setlist.EventDateISO
	if setlist.VenueName != "" {
		name += " @ " + setlist.VenueName
	}
	if len([]rune(name)) > core.MaxPlaylistNameLength {
		name = string([]rune(name)[:core.MaxPlaylistNameLength])
	}
	return name
}

func printPreview(out io.Writer, preview *core.ExportPreview) {
	fmt.Fprintf(out, "%s - %s %s\n\n", preview.Setlist.PerformingArtistName, preview.Setlist.EventDateISO, preview.Setlist.VenueName)
	for _, row := range preview.Filter.View() {
		mark := "+"
		switch {
		case !row.Track.Found():
			mark = "?"
		case row.Excluded:
			mark = "-"
		}
		artist := ""
		if row.Track.PrimaryArtistName != "" {
			artist = " (" + row.Track.PrimaryArtistName + ")"
		}
		fmt.Fprintf(out, "%3d %s %s%s\n", row.Index, mark, row.Track.DisplayName, artist)
	}
	fmt.Fprintf(out, "\n%d tracks will be added\n", len(preview.Filter.FinalTracks()))
}

func runPredict(cmd *cobra.Command, artist string) error {
	if err := validateConfig(true); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svcs, err := initializeServices(ctx)
	if err != nil {
		return err
	}
	defer svcs.Close()

	_, past, err := svcs.pipeline.LoadSetlists(ctx, artist)
	if err != nil {
		return err
	}

	prediction, err := svcs.pipeline.Predict(ctx, cliUserID, past)
	var denied *core.QuotaDeniedError
	switch {
	case errors.As(err, &denied):
		return fmt.Errorf("daily prediction quota reached, try again after %s", denied.RetryAfter.Local().Format("2006-01-02 15:04"))
	case errors.Is(err, core.ErrPredictorNotConfigured):
		return fmt.Errorf("%w: set --llm-provider", err)
	case err != nil:
		return err
	}

	out := cmd.OutOrStdout()
	for i, entry := range prediction.Merged.Entries() {
		line := entry.Name
		if entry.IsCover() {
			line += " (" + entry.CoverOriginalArtist + " cover)"
		}
		fmt.Fprintf(out, "%2d. %s\n", i+1, line)
	}
	fmt.Fprintf(out, "\n%d predictions left today\n", prediction.Remaining)
	return nil
}
