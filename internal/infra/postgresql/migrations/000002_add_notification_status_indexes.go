package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addNotificationStatusIndexes() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_add_notification_status_indexes",
		Migrate: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_notification_status_failed ON notification_status (updated_at) WHERE status = 'failed'`,
				`CREATE INDEX IF NOT EXISTS idx_notification_status_request_id ON notification_status (request_id)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`DROP INDEX IF EXISTS idx_notification_status_request_id`,
				`DROP INDEX IF EXISTS idx_notification_status_failed`,
			})
		},
	}
}
