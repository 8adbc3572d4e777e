package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func createNotificationStatusTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_notification_status",
		Migrate: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS notification_status (
					notification_id VARCHAR(255) PRIMARY KEY,
					status          VARCHAR(20)  NOT NULL CHECK (status IN ('pending', 'delivered', 'failed')),
					error           TEXT,
					attempts        INTEGER      NOT NULL DEFAULT 0,
					channel         VARCHAR(10),
					request_id      VARCHAR(255),
					updated_at      TIMESTAMPTZ  NOT NULL,
					created_at      TIMESTAMPTZ  NOT NULL DEFAULT NOW()
				)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return execAll(tx, []string{`DROP TABLE IF EXISTS notification_status`})
		},
	}
}
