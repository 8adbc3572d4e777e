package repository

import (
	"time"

	"github.com/kursadbilgin/notification-pipeline/internal/domain"
)

// StatusModel is the persistence model for the notification_status table.
type StatusModel struct {
	NotificationID string        `gorm:"type:varchar(255);primaryKey"`
	Status         domain.Status `gorm:"type:varchar(20);not null"`
	Error          *string       `gorm:"type:text"`
	Attempts       int           `gorm:"not null"`
	Channel        string        `gorm:"type:varchar(10)"`
	RequestID      string        `gorm:"type:varchar(255)"`
	UpdatedAt      time.Time     `gorm:"type:timestamptz;not null;autoUpdateTime:false"`
	CreatedAt      time.Time     `gorm:"type:timestamptz;not null"`
}

func (StatusModel) TableName() string {
	return statusTable
}

func statusModelFromDomain(s domain.DeliveryStatus) StatusModel {
	return StatusModel{
		NotificationID: s.NotificationID,
		Status:         s.Status,
		Error:          s.Error,
		Attempts:       s.Attempts,
		Channel:        s.Channel.String(),
		RequestID:      s.RequestID,
		UpdatedAt:      s.UpdatedAt.UTC(),
	}
}

func statusModelToDomain(m StatusModel) domain.DeliveryStatus {
	return domain.DeliveryStatus{
		NotificationID: m.NotificationID,
		Status:         m.Status,
		Error:          m.Error,
		Attempts:       m.Attempts,
		Channel:        domain.NotificationType(m.Channel),
		RequestID:      m.RequestID,
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
}
