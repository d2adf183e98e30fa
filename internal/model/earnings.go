package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EarningsLedger 用户收益账本，仅用于展示，不与任何权威来源对账
type EarningsLedger struct {
	UserID    string          `gorm:"primarykey;size:64" json:"user_id"`
	Total     decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total"`
	Pending   decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"pending"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (EarningsLedger) TableName() string {
	return "earnings_ledgers"
}

// Paid 已结算金额 = 总收益 - 待结算
func (l EarningsLedger) Paid() decimal.Decimal {
	return l.Total.Sub(l.Pending)
}

// Payout 打款记录
type Payout struct {
	ID        uint            `gorm:"primarykey" json:"id"`
	UserID    string          `gorm:"size:64;not null;index" json:"user_id"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	CreatedAt time.Time       `gorm:"index" json:"created_at"`
}

func (Payout) TableName() string {
	return "payouts"
}
