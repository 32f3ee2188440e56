package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lazypower/retain/internal/tracker"
)

var _ tracker.Tracker = (*DB)(nil)

// Get returns the reinforcement state for a memory, or the zero state if it
// has never been reinforced.
func (db *DB) Get(ctx context.Context, id int64) (tracker.State, error) {
	if err := ctx.Err(); err != nil {
		return tracker.State{}, err
	}

	var count int64
	var last sql.NullInt64
	err := db.QueryRowContext(ctx, `
		SELECT access_count, last_reinforced_at FROM reinforcements WHERE memory_id = ?
	`, id).Scan(&count, &last)
	if err == sql.ErrNoRows {
		return tracker.State{}, nil
	}
	if err != nil {
		return tracker.State{}, wrapErr(ctx, "get reinforcement", id, err)
	}
	return stateOf(count, last), nil
}

// Reinforce increments access_count and sets last_reinforced_at (retrieval boost).
// The upsert is a single statement, so it is applied whole or not at all.
func (db *DB) Reinforce(ctx context.Context, id int64, now time.Time) (tracker.State, error) {
	if err := ctx.Err(); err != nil {
		return tracker.State{}, err
	}

	var count int64
	var last sql.NullInt64
	err := db.QueryRowContext(ctx, `
		INSERT INTO reinforcements (memory_id, access_count, last_reinforced_at, updated_at)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(memory_id) DO UPDATE SET
			access_count = access_count + 1,
			last_reinforced_at = excluded.last_reinforced_at,
			updated_at = excluded.updated_at
		RETURNING access_count, last_reinforced_at
	`, id, now.UnixMilli(), time.Now().UnixMilli()).Scan(&count, &last)
	if err != nil {
		return tracker.State{}, wrapErr(ctx, "reinforce", id, err)
	}
	return stateOf(count, last), nil
}

// Remove deletes the reinforcement state for a memory.
func (db *DB) Remove(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM reinforcements WHERE memory_id = ?", id); err != nil {
		return wrapErr(ctx, "remove reinforcement", id, err)
	}
	return nil
}

// CountReinforced returns the number of memories with tracked state.
func (db *DB) CountReinforced(ctx context.Context) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reinforcements").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count reinforcements: %w", err)
	}
	return count, nil
}

func stateOf(count int64, last sql.NullInt64) tracker.State {
	st := tracker.State{AccessCount: count}
	if last.Valid {
		st.LastReinforcedAt = time.UnixMilli(last.Int64)
	}
	return st
}

// wrapErr marks storage failures as tracker.ErrUnavailable. Cancellation is
// passed through so callers can tell it apart from an outage.
func wrapErr(ctx context.Context, op string, id int64, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s %d: %w", op, id, err)
	}
	return fmt.Errorf("%w: %s %d: %w", tracker.ErrUnavailable, op, id, err)
}
