package editor

import (
	"context"
	"errors"
	"time"

	"github.com/ehr/qeditor/internal/domain/questionnaire"
)

var (
	ErrSnapshotNotFound = errors.New("questionnaire not found")
	ErrSnapshotExists   = errors.New("questionnaire already exists")
)

// Snapshot is the stored editor state of one questionnaire.
type Snapshot struct {
	ID        string               `json:"id"`
	Language  string               `json:"language"`
	Title     string               `json:"title"`
	Version   int                  `json:"version"`
	State     *questionnaire.State `json:"state"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Summary is the listing view of a snapshot.
type Summary struct {
	ID        string    `json:"id"`
	Language  string    `json:"language"`
	Title     string    `json:"title"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Snapshot) Summary() Summary {
	return Summary{ID: s.ID, Language: s.Language, Title: s.Title, Version: s.Version, UpdatedAt: s.UpdatedAt}
}

func snapshotOf(st *questionnaire.State) *Snapshot {
	return &Snapshot{
		ID:       st.Metadata.ID,
		Language: st.Metadata.Language,
		Title:    st.Metadata.Title,
		State:    st,
	}
}

// SnapshotRepository stores editor states. Save is an upsert: it bumps
// Version and fills the timestamps of snap. List orders by most recent
// update and always reports the total; a limit of zero or less returns no
// rows.
type SnapshotRepository interface {
	Get(ctx context.Context, id string) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit, offset int) ([]Summary, int, error)
}
