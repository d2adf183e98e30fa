package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ClickEvent 联盟链接点击记录，转化时原地更新，永不删除
type ClickEvent struct {
	ID               string          `gorm:"primarykey;size:64" json:"id"`
	UserID           string          `gorm:"size:64;index" json:"user_id,omitempty"`
	SessionID        string          `gorm:"size:64;index" json:"session_id,omitempty"`
	ProductID        string          `gorm:"size:128;not null;index" json:"product_id"`
	OutfitID         string          `gorm:"size:128;index" json:"outfit_id,omitempty"`
	PartnerID        string          `gorm:"size:64;index" json:"partner_id,omitempty"`
	IPAddress        string          `gorm:"size:45" json:"ip_address"`
	UserAgent        string          `gorm:"type:text" json:"user_agent"`
	Referrer         string          `gorm:"type:text" json:"referrer,omitempty"`
	Converted        bool            `gorm:"default:false;index" json:"converted"`
	Revenue          decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"revenue"`
	CommissionRate   float64         `gorm:"not null" json:"commission_rate"`
	OrderID          string          `gorm:"size:128" json:"order_id,omitempty"`
	CommissionEarned decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"commission_earned"`
	ConversionTime   *time.Time      `json:"conversion_time,omitempty"`
	CreatedAt        time.Time       `gorm:"index" json:"created_at"`
}

func (ClickEvent) TableName() string {
	return "affiliate_clicks"
}

// Conversion 转化流水，只追加
type Conversion struct {
	ID         uint            `gorm:"primarykey" json:"id"`
	ClickID    string          `gorm:"size:64;not null;index" json:"click_id"`
	OrderID    string          `gorm:"size:128;not null" json:"order_id"`
	OrderValue decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"order_value"`
	Commission decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"commission"`
	CreatedAt  time.Time       `gorm:"index" json:"created_at"`
}

func (Conversion) TableName() string {
	return "affiliate_conversions"
}
