package editor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/ehr/qeditor/internal/domain/questionnaire"
)

const (
	snapshotKeyPrefix = "qeditor:snapshot:"
	snapshotIndexKey  = "qeditor:snapshots"
)

// storedSnapshot is the redis value. State stays raw so listing does not
// decode whole documents.
type storedSnapshot struct {
	ID        string          `json:"id"`
	Language  string          `json:"language"`
	Title     string          `json:"title"`
	Version   int             `json:"version"`
	State     json.RawMessage `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type snapshotRepoRedis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotRepoRedis stores snapshots as JSON values. A zero ttl keeps
// them forever. Ids are indexed in a sorted set scored by update time.
func NewSnapshotRepoRedis(client *redis.Client, ttl time.Duration) SnapshotRepository {
	return &snapshotRepoRedis{client: client, ttl: ttl}
}

func snapshotKey(id string) string { return snapshotKeyPrefix + id }

func (r *snapshotRepoRedis) load(ctx context.Context, id string) (*storedSnapshot, error) {
	data, err := r.client.Get(ctx, snapshotKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", id, err)
	}
	var stored storedSnapshot
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return &stored, nil
}

func (r *snapshotRepoRedis) Get(ctx context.Context, id string) (*Snapshot, error) {
	stored, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	state, err := questionnaire.DecodeState(stored.State)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		ID:        stored.ID,
		Language:  stored.Language,
		Title:     stored.Title,
		Version:   stored.Version,
		State:     state,
		CreatedAt: stored.CreatedAt,
		UpdatedAt: stored.UpdatedAt,
	}, nil
}

// Save reads the previous version before writing. Callers serialise writes
// per id.
func (r *snapshotRepoRedis) Save(ctx context.Context, snap *Snapshot) error {
	now := time.Now().UTC()
	version, created := 1, now
	prev, err := r.load(ctx, snap.ID)
	switch {
	case err == nil:
		version, created = prev.Version+1, prev.CreatedAt
	case !errors.Is(err, ErrSnapshotNotFound):
		return err
	}

	state, err := json.Marshal(snap.State)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.ID, err)
	}
	value, err := json.Marshal(storedSnapshot{
		ID:        snap.ID,
		Language:  snap.Language,
		Title:     snap.Title,
		Version:   version,
		State:     state,
		CreatedAt: created,
		UpdatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.ID, err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, snapshotKey(snap.ID), value, r.ttl)
		pipe.ZAdd(ctx, snapshotIndexKey, redis.Z{Score: float64(now.UnixMilli()), Member: snap.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.ID, err)
	}
	snap.Version, snap.CreatedAt, snap.UpdatedAt = version, created, now
	return nil
}

func (r *snapshotRepoRedis) Delete(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, snapshotKey(id))
		pipe.ZRem(ctx, snapshotIndexKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	if del.Val() == 0 {
		return ErrSnapshotNotFound
	}
	return nil
}

// List pages through the index. Entries whose value expired are dropped
// from the index as they are found.
func (r *snapshotRepoRedis) List(ctx context.Context, limit, offset int) ([]Summary, int, error) {
	total, err := r.client.ZCard(ctx, snapshotIndexKey).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("count snapshots: %w", err)
	}
	items := []Summary{}
	if limit <= 0 || int64(offset) >= total {
		return items, int(total), nil
	}
	ids, err := r.client.ZRevRange(ctx, snapshotIndexKey, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("list snapshots: %w", err)
	}
	if len(ids) == 0 {
		return items, int(total), nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = snapshotKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("load snapshots: %w", err)
	}

	var expired []interface{}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var s Summary
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, 0, fmt.Errorf("decode snapshot %s: %w", ids[i], err)
		}
		items = append(items, s)
	}
	if len(expired) > 0 {
		if err := r.client.ZRem(ctx, snapshotIndexKey, expired...).Err(); err != nil {
			return nil, 0, fmt.Errorf("prune snapshot index: %w", err)
		}
		total -= int64(len(expired))
	}
	return items, int(total), nil
}
