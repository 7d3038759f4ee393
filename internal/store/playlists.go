package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"setlistify/internal/core"
)

// PlaylistStore persists exported playlists and their song positions.
type PlaylistStore struct {
	db *sql.DB
}

// NewPlaylistStore creates a PlaylistStore on db.
func NewPlaylistStore(db *sql.DB) *PlaylistStore {
	return &PlaylistStore{db: db}
}

// SavePlaylist inserts playlist with a generated id, which is written back into playlist.ID.
func (s *PlaylistStore) SavePlaylist(ctx context.Context, playlist *core.StoredPlaylist) error {
	if playlist.UserID == "" {
		return errors.New("playlist user id is required")
	}
	if playlist.CreatedAt.IsZero() {
		playlist.CreatedAt = time.Now().UTC()
	}
	id := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO playlists (id, user_id, catalog_id, name, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, playlist.UserID, playlist.CatalogID, playlist.Name, playlist.Description, playlist.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert playlist: %w", err)
	}

	for i, song := range playlist.Songs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO playlist_songs (playlist_id, position, catalog_song_id) VALUES (?, ?, ?)",
			id, i, song.CatalogSongID,
		); err != nil {
			return fmt.Errorf("failed to insert playlist song %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit playlist: %w", err)
	}

	playlist.ID = id
	for i := range playlist.Songs {
		playlist.Songs[i].Position = i
	}
	return nil
}

// GetPlaylist returns the playlist with its songs ordered by position.
func (s *PlaylistStore) GetPlaylist(ctx context.Context, id string) (*core.StoredPlaylist, error) {
	var p core.StoredPlaylist
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, catalog_id, name, description, created_at
		FROM playlists WHERE id = ?`, id,
	).Scan(&p.ID, &p.UserID, &p.CatalogID, &p.Name, &p.Description, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: playlist %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get playlist: %w", err)
	}

	songs, err := s.songs(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Songs = songs
	return &p, nil
}

// ListPlaylists returns the user's playlists, newest first.
func (s *PlaylistStore) ListPlaylists(ctx context.Context, userID string) ([]core.StoredPlaylist, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, catalog_id, name, description, created_at
		FROM playlists WHERE user_id = ?
		ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list playlists: %w", err)
	}
	defer rows.Close()

	var playlists []core.StoredPlaylist
	for rows.Next() {
		var p core.StoredPlaylist
		if err := rows.Scan(&p.ID, &p.UserID, &p.CatalogID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan playlist: %w", err)
		}
		playlists = append(playlists, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate playlists: %w", err)
	}

	for i := range playlists {
		songs, err := s.songs(ctx, playlists[i].ID)
		if err != nil {
			return nil, err
		}
		playlists[i].Songs = songs
	}
	return playlists, nil
}

// DeletePlaylist removes the playlist if it belongs to userID.
func (s *PlaylistStore) DeletePlaylist(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM playlists WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete playlist: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: playlist %s", ErrNotFound, id)
	}
	return nil
}

func (s *PlaylistStore) songs(ctx context.Context, playlistID string) ([]core.StoredSong, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT catalog_song_id, position FROM playlist_songs WHERE playlist_id = ? ORDER BY position", playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to load playlist songs: %w", err)
	}
	defer rows.Close()

	songs := []core.StoredSong{}
	for rows.Next() {
		var song core.StoredSong
		if err := rows.Scan(&song.CatalogSongID, &song.Position); err != nil {
			return nil, fmt.Errorf("failed to scan playlist song: %w", err)
		}
		songs = append(songs, song)
	}
	return songs, rows.Err()
}
