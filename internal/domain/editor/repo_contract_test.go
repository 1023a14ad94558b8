package editor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ehr/qeditor/internal/domain/questionnaire"
)

// testSnapshotRepository runs the behaviour every SnapshotRepository shares
// against an empty repository.
func testSnapshotRepository(t *testing.T, repo SnapshotRepository) {
	ctx := context.Background()

	t.Run("SaveAndGet", func(t *testing.T) {
		st := questionnaire.NewState("contract-1", "nb-NO")
		st.Metadata.Title = "Skjema"
		snap := snapshotOf(st)
		if err := repo.Save(ctx, snap); err != nil {
			t.Fatalf("save: %v", err)
		}
		if snap.Version != 1 || snap.CreatedAt.IsZero() {
			t.Errorf("unexpected first save %+v", snap.Summary())
		}

		got, err := repo.Get(ctx, "contract-1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Title != "Skjema" || got.Language != "nb-NO" || got.State.Metadata.Title != "Skjema" {
			t.Errorf("unexpected snapshot %+v", got.Summary())
		}

		got.Title = "Endret"
		got.State.Metadata.Title = "Endret"
		if err := repo.Save(ctx, got); err != nil {
			t.Fatalf("second save: %v", err)
		}
		if got.Version != 2 {
			t.Errorf("expected version 2, got %d", got.Version)
		}
		again, _ := repo.Get(ctx, "contract-1")
		if again.State.Metadata.Title != "Endret" || again.Version != 2 {
			t.Errorf("update was not stored: %+v", again.Summary())
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.Get(ctx, "contract-missing"); !errors.Is(err, ErrSnapshotNotFound) {
			t.Errorf("expected ErrSnapshotNotFound, got %v", err)
		}
		if err := repo.Delete(ctx, "contract-missing"); !errors.Is(err, ErrSnapshotNotFound) {
			t.Errorf("expected ErrSnapshotNotFound, got %v", err)
		}
	})

	t.Run("ListAndDelete", func(t *testing.T) {
		for i := 2; i <= 4; i++ {
			if err := repo.Save(ctx, snapshotOf(questionnaire.NewState(fmt.Sprintf("contract-%d", i), "nb-NO"))); err != nil {
				t.Fatal(err)
			}
		}
		page, total, err := repo.List(ctx, 2, 0)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if total != 4 || len(page) != 2 {
			t.Errorf("expected 2 of 4, got %d of %d", len(page), total)
		}

		empty, total, err := repo.List(ctx, 0, 0)
		if err != nil {
			t.Fatalf("list without limit: %v", err)
		}
		if total != 4 || len(empty) != 0 {
			t.Errorf("a zero limit returns no rows: got %d of %d", len(empty), total)
		}
		if rest, _, _ := repo.List(ctx, 10, 3); len(rest) != 1 {
			t.Errorf("expected 1 row past offset 3, got %d", len(rest))
		}

		if err := repo.Delete(ctx, "contract-4"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, total, _ := repo.List(ctx, 10, 0); total != 3 {
			t.Errorf("expected 3 after delete, got %d", total)
		}
	})
}
