package database

import (
	"database/sql"
	"errors"
	"fmt"
)

// Video is one stored media resource with its per-quality source URLs.
// The HD URL is mandatory; SD and LD variants are optional.
type Video struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	Visibility string `json:"visibility"` // "public" or "private"
	HDURL      string `json:"hdUrl"`
	SDURL      string `json:"sdUrl"`
	LDURL      string `json:"ldUrl"`
}

// ErrVideoNotFound is returned when a lookup targets a missing video row.
var ErrVideoNotFound = errors.New("video not found")

// GetVideo fetches a single video by id.
func (db *DB) GetVideo(id int64) (*Video, error) {
	row := db.QueryRow(`SELECT id, title, visibility, hd_url, sd_url, ld_url FROM videos WHERE id = ?`, id)

	var v Video
	err := row.Scan(&v.ID, &v.Title, &v.Visibility, &v.HDURL, &v.SDURL, &v.LDURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVideoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query video %d: %w", id, err)
	}
	return &v, nil
}

// ListVideos returns all stored videos ordered by id.
func (db *DB) ListVideos() ([]*Video, error) {
	rows, err := db.Query(`SELECT id, title, visibility, hd_url, sd_url, ld_url FROM videos ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	defer rows.Close()

	var videos []*Video
	for rows.Next() {
		var v Video
		if err := rows.Scan(&v.ID, &v.Title, &v.Visibility, &v.HDURL, &v.SDURL, &v.LDURL); err != nil {
			return nil, fmt.Errorf("failed to scan video row: %w", err)
		}
		videos = append(videos, &v)
	}
	return videos, rows.Err()
}

// CreateVideo inserts a new video and returns it with its assigned id.
func (db *DB) CreateVideo(v *Video) (*Video, error) {
	if v.Visibility == "" {
		v.Visibility = "public"
	}
	res, err := db.Exec(
		`INSERT INTO videos (title, visibility, hd_url, sd_url, ld_url) VALUES (?, ?, ?, ?, ?)`,
		v.Title, v.Visibility, v.HDURL, v.SDURL, v.LDURL,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert video: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read inserted video id: %w", err)
	}
	v.ID = id
	return v, nil
}

// UpdateVideo overwrites an existing video's metadata and quality URLs.
func (db *DB) UpdateVideo(v *Video) error {
	res, err := db.Exec(
		`UPDATE videos SET title = ?, visibility = ?, hd_url = ?, sd_url = ?, ld_url = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		v.Title, v.Visibility, v.HDURL, v.SDURL, v.LDURL, v.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update video %d: %w", v.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrVideoNotFound
	}
	return nil
}

// DeleteVideo removes a video row.
func (db *DB) DeleteVideo(id int64) error {
	res, err := db.Exec(`DELETE FROM videos WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete video %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrVideoNotFound
	}
	return nil
}
