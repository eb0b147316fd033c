package models

type PoolOption struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	PoolID   string `gorm:"type:varchar(64);not null;uniqueIndex:idx_pool_option"`
	OptionID string `gorm:"type:varchar(64);not null;uniqueIndex:idx_pool_option"`
	Label    string `gorm:"type:text"`
	Position int    `gorm:"not null;default:0"`
}

func (PoolOption) TableName() string {
	return "pool_options"
}
