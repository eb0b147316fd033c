package models

import (
	"time"

	"gorm.io/datatypes"
)

// SystemSetting is an operator-editable key/value row. Feature switches
// store a JSON boolean under a "feature." key.
type SystemSetting struct {
	ID    uint64         `gorm:"primaryKey;autoIncrement"`
	Key   string         `gorm:"type:varchar(120);not null;uniqueIndex"`
	Value datatypes.JSON `gorm:"not null"`

	Description string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime;index"`
}

func (SystemSetting) TableName() string {
	return "system_settings"
}
