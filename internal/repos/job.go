package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aistory/aistory-web/internal/domain"
	"github.com/aistory/aistory-web/internal/platform/logger"
)

// JobRepo owns row access for the jobs table. Every method takes an
// optional tx override so services can compose calls into one transaction.
type JobRepo interface {
	Create(ctx context.Context, tx *gorm.DB, job *domain.Job) (*domain.Job, error)
	List(ctx context.Context, tx *gorm.DB, ownerID *uuid.UUID, limit int) ([]*domain.Job, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID, ownerID *uuid.UUID) (*domain.Job, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID, ownerID *uuid.UUID) error
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{
		db:  db,
		log: baseLog.With("repo", "JobRepo"),
	}
}

func (r *jobRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *jobRepo) Create(ctx context.Context, tx *gorm.DB, job *domain.Job) (*domain.Job, error) {
	if job == nil {
		return nil, errors.New("nil job")
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if err := r.conn(tx).WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *jobRepo) List(ctx context.Context, tx *gorm.DB, ownerID *uuid.UUID, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	q := r.conn(tx).WithContext(ctx).Order("created_at DESC").Limit(limit)
	if ownerID != nil {
		q = q.Where("owner_id = ?", *ownerID)
	}
	var out []*domain.Job
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// GetByID returns nil, nil when no matching row exists. A non-nil ownerID
// scopes the lookup, so an unowned row behaves exactly like a missing one.
func (r *jobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID, ownerID *uuid.UUID) (*domain.Job, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	q := r.conn(tx).WithContext(ctx).Where("id = ?", id)
	if ownerID != nil {
		q = q.Where("owner_id = ?", *ownerID)
	}
	var job domain.Job
	err := q.First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return r.conn(tx).WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *jobRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID, ownerID *uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	q := r.conn(tx).WithContext(ctx).Where("id = ?", id)
	if ownerID != nil {
		q = q.Where("owner_id = ?", *ownerID)
	}
	return q.Delete(&domain.Job{}).Error
}
