// Package store keeps a history of published captions in Postgres. It doubles
// as a caption.Publisher sink so persistence rides the same fan-out path as
// live delivery.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"babble.town/caption"
)

const schema = `
CREATE TABLE IF NOT EXISTS captions (
	id TEXT PRIMARY KEY,
	participant TEXT NOT NULL,
	track_id TEXT NOT NULL,
	language TEXT NOT NULL,
	text TEXT NOT NULL,
	is_final BOOLEAN NOT NULL,
	start_offset_ms BIGINT NOT NULL,
	end_offset_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS captions_track_idx ON captions (track_id, created_at);
`

type Store struct {
	pool *pgxpool.Pool
}

func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database pool: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Publish implements caption.Publisher by persisting each segment.
func (s *Store) Publish(ctx context.Context, c caption.Caption) error {
	for _, seg := range c.Segments {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO captions
				(id, participant, track_id, language, text, is_final,
				 start_offset_ms, end_offset_ms)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			seg.ID,
			c.Participant,
			c.TrackID,
			seg.Language,
			seg.Text,
			seg.IsFinal,
			seg.StartOffset.Milliseconds(),
			seg.EndOffset.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("failed to save caption %s: %w", seg.ID, err)
		}
	}
	return nil
}

type Row struct {
	ID          string `json:"id"`
	Participant string `json:"participant"`
	TrackID     string `json:"track_id"`
	Language    string `json:"language"`
	Text        string `json:"text"`
	CreatedAt   string `json:"created_at"`
}

// Recent returns the newest captions, newest first.
func (s *Store) Recent(ctx context.Context, limit int32) ([]Row, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, participant, track_id, language, text,
			to_char(created_at, 'YYYY-MM-DD"T"HH24:MI:SSOF')
		 FROM captions
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query captions: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		err := rows.Scan(
			&r.ID,
			&r.Participant,
			&r.TrackID,
			&r.Language,
			&r.Text,
			&r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan caption row: %w", err)
		}
		out = append(out, r)
	}

	return out, rows.Err()
}
