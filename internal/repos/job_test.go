package repos

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/aistory/aistory-web/internal/domain"
	"github.com/aistory/aistory-web/internal/platform/logger"
)

func newTestRepo(t *testing.T) JobRepo {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Job{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return NewJobRepo(db, log)
}

func TestCreateAssignsID(t *testing.T) {
	repo := newTestRepo(t)
	job, err := repo.Create(context.Background(), nil, &domain.Job{Idea: "x", Style: "anime", Status: domain.JobStatusPending})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if job.ID == uuid.Nil {
		t.Fatalf("id not assigned")
	}
	if _, err := repo.Create(context.Background(), nil, nil); err == nil {
		t.Fatalf("nil job must error")
	}
}

func TestGetByIDScopingAndMissing(t *testing.T) {
	repo := newTestRepo(t)
	owner := uuid.New()
	job := &domain.Job{ID: uuid.New(), OwnerID: &owner, Idea: "x", Style: "cinematic", Status: domain.JobStatusQueued}
	if _, err := repo.Create(context.Background(), nil, job); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.GetByID(context.Background(), nil, job.ID, &owner)
	if err != nil || got == nil {
		t.Fatalf("owner-scoped read: job=%v err=%v", got, err)
	}

	other := uuid.New()
	got, err = repo.GetByID(context.Background(), nil, job.ID, &other)
	if err != nil || got != nil {
		t.Fatalf("foreign row must read as missing: job=%v err=%v", got, err)
	}

	got, err = repo.GetByID(context.Background(), nil, uuid.New(), nil)
	if err != nil || got != nil {
		t.Fatalf("missing row must be nil, nil: job=%v err=%v", got, err)
	}

	got, err = repo.GetByID(context.Background(), nil, uuid.Nil, nil)
	if err != nil || got != nil {
		t.Fatalf("nil id must be nil, nil: job=%v err=%v", got, err)
	}
}

func TestListNewestFirstAndScoped(t *testing.T) {
	repo := newTestRepo(t)
	owner := uuid.New()

	var ids []uuid.UUID
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		job := &domain.Job{
			ID:        uuid.New(),
			OwnerID:   &owner,
			Idea:      fmt.Sprintf("idea %d", i),
			Style:     "cinematic",
			Status:    domain.JobStatusCompleted,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if _, err := repo.Create(context.Background(), nil, job); err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, job.ID)
	}
	stranger := uuid.New()
	if _, err := repo.Create(context.Background(), nil, &domain.Job{
		ID: uuid.New(), OwnerID: &stranger, Idea: "other", Style: "anime", Status: domain.JobStatusCompleted,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	jobs, err := repo.List(context.Background(), nil, &owner, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("len = %d, want 3", len(jobs))
	}
	if jobs[0].ID != ids[2] || jobs[2].ID != ids[0] {
		t.Fatalf("not newest-first: %v", jobs)
	}

	jobs, err = repo.List(context.Background(), nil, &owner, 2)
	if err != nil || len(jobs) != 2 {
		t.Fatalf("limit not applied: len=%d err=%v", len(jobs), err)
	}
}

func TestUpdateFieldsAndDelete(t *testing.T) {
	repo := newTestRepo(t)
	owner := uuid.New()
	job := &domain.Job{ID: uuid.New(), OwnerID: &owner, Idea: "x", Style: "anime", Status: domain.JobStatusProcessing}
	if _, err := repo.Create(context.Background(), nil, job); err != nil {
		t.Fatalf("Create: %v", err)
	}

	err := repo.UpdateFields(context.Background(), nil, job.ID, map[string]any{
		"status":        domain.JobStatusFailed,
		"error_message": "ran out of credits",
	})
	if err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	got, err := repo.GetByID(context.Background(), nil, job.ID, nil)
	if err != nil || got == nil {
		t.Fatalf("re-read: job=%v err=%v", got, err)
	}
	if got.Status != domain.JobStatusFailed || got.ErrorMessage != "ran out of credits" {
		t.Fatalf("update not applied: %+v", got)
	}

	// empty update and nil id are no-ops
	if err := repo.UpdateFields(context.Background(), nil, job.ID, nil); err != nil {
		t.Fatalf("empty update: %v", err)
	}
	if err := repo.UpdateFields(context.Background(), nil, uuid.Nil, map[string]any{"status": "x"}); err != nil {
		t.Fatalf("nil id update: %v", err)
	}

	other := uuid.New()
	if err := repo.Delete(context.Background(), nil, job.ID, &other); err != nil {
		t.Fatalf("foreign delete: %v", err)
	}
	if got, _ := repo.GetByID(context.Background(), nil, job.ID, nil); got == nil {
		t.Fatalf("foreign delete must not remove the row")
	}

	if err := repo.Delete(context.Background(), nil, job.ID, &owner); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, _ := repo.GetByID(context.Background(), nil, job.ID, nil); got != nil {
		t.Fatalf("row survived delete")
	}
}
