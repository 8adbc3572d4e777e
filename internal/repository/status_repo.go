package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/notification-pipeline/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const statusTable = "notification_status"

type StatusRepository interface {
	// Upsert writes s unless the stored record is newer. It reports whether s was applied.
	Upsert(ctx context.Context, s domain.DeliveryStatus) (bool, error)
	GetByID(ctx context.Context, notificationID string) (domain.DeliveryStatus, error)
}

type GormStatusRepo struct {
	db *gorm.DB
}

func NewGormStatusRepo(db *gorm.DB) *GormStatusRepo {
	return &GormStatusRepo{db: db}
}

func (r *GormStatusRepo) Upsert(ctx context.Context, s domain.DeliveryStatus) (bool, error) {
	if err := s.Validate(); err != nil {
		return false, err
	}

	model := statusModelFromDomain(s)
	model.CreatedAt = model.UpdatedAt

	result := r.db.WithContext(ctx).Clauses(statusUpsertClause()).Create(&model)
	if result.Error != nil {
		return false, fmt.Errorf("upsert notification status %s: %w", s.NotificationID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *GormStatusRepo) GetByID(ctx context.Context, notificationID string) (domain.DeliveryStatus, error) {
	var model StatusModel
	err := r.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.DeliveryStatus{}, fmt.Errorf("%w: notification status %s", domain.ErrNotFound, notificationID)
	}
	if err != nil {
		return domain.DeliveryStatus{}, err
	}
	return statusModelToDomain(model), nil
}

// statusUpsertClause is last-write-wins by event time: an older status never
// overwrites a newer one, and replaying the same status rewrites identical values.
func statusUpsertClause() clause.OnConflict {
	return clause.OnConflict{
		Columns: []clause.Column{{Name: "notification_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status",
			"error",
			"attempts",
			"channel",
			"request_id",
			"updated_at",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: statusTable + ".updated_at <= EXCLUDED.updated_at"},
		}},
	}
}
