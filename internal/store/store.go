// Package store 持久化点击账本、收益账本与会话级临时数据。
// 存储后端可替换：生产环境使用 gorm（MySQL），测试使用 SQLite，会话数据使用 Redis 或内存。
package store

import (
	"context"
	"errors"
	"time"

	"findout-affiliate/internal/model"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound            = errors.New("记录不存在")
	ErrAlreadyConverted    = errors.New("点击已转化")
	ErrInvalidAmount       = errors.New("金额必须大于 0")
	ErrInsufficientPending = errors.New("待结算金额不足")
)

// Ledger 点击与收益账本
type Ledger interface {
	SaveClick(ctx context.Context, click *model.ClickEvent) error
	FindClick(ctx context.Context, id string) (*model.ClickEvent, error)
	// MarkConverted 将点击标记为已转化并追加转化流水，已转化的点击返回 ErrAlreadyConverted
	MarkConverted(ctx context.Context, clickID string, conv *model.Conversion) error
	AddEarnings(ctx context.Context, userID string, amount decimal.Decimal) error
	GetEarnings(ctx context.Context, userID string) (model.EarningsLedger, error)
	RecordPayout(ctx context.Context, userID string, amount decimal.Decimal) (*model.Payout, error)
}

// AnalyticsSource 为统计接口提供数据
type AnalyticsSource interface {
	ClickStats(ctx context.Context, filter ClickFilter) (*ClickStats, error)
	UserStats(ctx context.Context, userID string, since time.Time) (*UserStats, error)
}

// SessionStore 会话级短期数据，带过期时间
type SessionStore interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// ClickFilter 统计过滤条件，空字段表示不过滤
type ClickFilter struct {
	ProductID string
	OutfitID  string
	Since     time.Time
}

type ProductStat struct {
	ProductID   string          `json:"product_id"`
	Clicks      int64           `json:"clicks"`
	Conversions int64           `json:"conversions"`
	Revenue     decimal.Decimal `json:"revenue"`
}

type SourceStat struct {
	Source string `json:"source"`
	Clicks int64  `json:"clicks"`
}

type HourlyStat struct {
	Hour   int   `json:"hour"`
	Clicks int64 `json:"clicks"`
}

// ClickStats 点击统计原始数据
type ClickStats struct {
	TotalClicks     int64
	UniqueClicks    int64
	Conversions     int64
	TotalRevenue    decimal.Decimal
	TotalCommission decimal.Decimal
	TopProducts     []ProductStat
	Sources         []SourceStat
	Hourly          []HourlyStat
}

type OutfitEarnings struct {
	OutfitID    string          `json:"outfit_id"`
	Conversions int64           `json:"conversions"`
	Earnings    decimal.Decimal `json:"earnings"`
}

type BrandEarnings struct {
	PartnerID   string          `json:"partner_id"`
	Conversions int64           `json:"conversions"`
	Earnings    decimal.Decimal `json:"earnings"`
}

type Transaction struct {
	ClickID     string          `json:"click_id"`
	OrderID     string          `json:"order_id"`
	ProductID   string          `json:"product_id"`
	PartnerID   string          `json:"partner_id"`
	OrderValue  decimal.Decimal `json:"order_value"`
	Commission  decimal.Decimal `json:"commission"`
	ConvertedAt time.Time       `json:"converted_at"`
}

// UserStats 用户收益统计原始数据
type UserStats struct {
	TotalClicks int64
	Conversions int64
	TopOutfits  []OutfitEarnings
	ByBrand     []BrandEarnings
	Recent      []Transaction
	Payouts     []model.Payout
}
