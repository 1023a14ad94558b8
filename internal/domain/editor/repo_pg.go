package editor

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/qeditor/internal/domain/questionnaire"
	"github.com/ehr/qeditor/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type snapshotRepoPG struct{ pool *pgxpool.Pool }

func NewSnapshotRepoPG(pool *pgxpool.Pool) SnapshotRepository {
	return &snapshotRepoPG{pool: pool}
}

func (r *snapshotRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const snapCols = `id, language, title, state, version, created_at, updated_at`

func (r *snapshotRepoPG) Get(ctx context.Context, id string) (*Snapshot, error) {
	var s Snapshot
	var state []byte
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+snapCols+` FROM questionnaire_snapshot WHERE id = $1`, id).
		Scan(&s.ID, &s.Language, &s.Title, &state, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", id, err)
	}
	if s.State, err = questionnaire.DecodeState(state); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *snapshotRepoPG) Save(ctx context.Context, snap *Snapshot) error {
	state, err := json.Marshal(snap.State)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.ID, err)
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO questionnaire_snapshot (id, language, title, state)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET language = EXCLUDED.language, title = EXCLUDED.title,
			state = EXCLUDED.state, version = questionnaire_snapshot.version + 1, updated_at = NOW()
		RETURNING version, created_at, updated_at`,
		snap.ID, snap.Language, snap.Title, state).
		Scan(&snap.Version, &snap.CreatedAt, &snap.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.ID, err)
	}
	return nil
}

func (r *snapshotRepoPG) Delete(ctx context.Context, id string) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM questionnaire_snapshot WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSnapshotNotFound
	}
	return nil
}

func (r *snapshotRepoPG) List(ctx context.Context, limit, offset int) ([]Summary, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM questionnaire_snapshot`).Scan(&total); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		return []Summary{}, total, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, language, title, version, updated_at FROM questionnaire_snapshot
		ORDER BY updated_at DESC, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items := []Summary{}
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.Language, &s.Title, &s.Version, &s.UpdatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}
