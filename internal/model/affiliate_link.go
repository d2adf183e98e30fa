package model

import (
	"time"
)

// AffiliateLink 联盟短链接，短码指向已生成的联盟追踪链接
type AffiliateLink struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	ShortCode  string    `gorm:"size:10;uniqueIndex;not null" json:"short_code"`
	TargetURL  string    `gorm:"type:text;not null" json:"target_url"`
	ProductID  string    `gorm:"size:128;not null" json:"product_id"`
	OutfitID   string    `gorm:"size:128" json:"outfit_id"`
	UserID     string    `gorm:"size:64;index" json:"user_id,omitempty"`
	ClickCount int64     `gorm:"default:0" json:"click_count"`
	IsActive   bool      `gorm:"default:true" json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName 指定表名
func (AffiliateLink) TableName() string {
	return "affiliate_links"
}
