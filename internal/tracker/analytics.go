package tracker

import (
	"context"
	"time"

	"findout-affiliate/internal/model"
	"findout-affiliate/internal/store"

	"github.com/shopspring/decimal"
)

// Timeframe 点击统计的时间窗口
type Timeframe string

const (
	Timeframe1d  Timeframe = "1d"
	Timeframe7d  Timeframe = "7d"
	Timeframe30d Timeframe = "30d"
)

// Duration 未知取值按 7d 处理
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1d:
		return 24 * time.Hour
	case Timeframe30d:
		return 30 * 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// Period 收益统计周期
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
	PeriodAll     Period = "all"
)

// since 返回统计起点，all 返回零值表示不限；未知取值按 monthly 处理
func (p Period) since(now time.Time) time.Time {
	switch p {
	case PeriodAll:
		return time.Time{}
	case PeriodDaily:
		return now.Add(-24 * time.Hour)
	case PeriodWeekly:
		return now.Add(-7 * 24 * time.Hour)
	default:
		return now.Add(-30 * 24 * time.Hour)
	}
}

// ClickAnalytics 点击统计，所有字段都有零值，列表不会为 nil
type ClickAnalytics struct {
	TotalClicks           int64               `json:"total_clicks"`
	UniqueClicks          int64               `json:"unique_clicks"`
	Conversions           int64               `json:"conversions"`
	ConversionRate        float64             `json:"conversion_rate"`
	TotalRevenue          decimal.Decimal     `json:"total_revenue"`
	TotalCommission       decimal.Decimal     `json:"total_commission"`
	AverageOrderValue     decimal.Decimal     `json:"average_order_value"`
	TopConvertingProducts []store.ProductStat `json:"top_converting_products"`
	ClickSources          []store.SourceStat  `json:"click_sources"`
	HourlyDistribution    []store.HourlyStat  `json:"hourly_distribution"`
}

// UserEarnings 用户收益面板，所有字段都有零值，列表不会为 nil
type UserEarnings struct {
	TotalEarnings        decimal.Decimal        `json:"total_earnings"`
	PendingEarnings      decimal.Decimal        `json:"pending_earnings"`
	PaidEarnings         decimal.Decimal        `json:"paid_earnings"`
	TotalClicks          int64                  `json:"total_clicks"`
	Conversions          int64                  `json:"conversions"`
	ConversionRate       float64                `json:"conversion_rate"`
	TopPerformingOutfits []store.OutfitEarnings `json:"top_performing_outfits"`
	EarningsByBrand      []store.BrandEarnings  `json:"earnings_by_brand"`
	RecentTransactions   []store.Transaction    `json:"recent_transactions"`
	PayoutHistory        []model.Payout         `json:"payout_history"`
}

// GetClickAnalytics 汇总点击统计，未配置数据源或查询失败时返回全零结果
func (t *Tracker) GetClickAnalytics(ctx context.Context, productID, outfitID string, timeframe Timeframe) ClickAnalytics {
	out := ClickAnalytics{
		TotalRevenue:          decimal.Zero,
		TotalCommission:       decimal.Zero,
		AverageOrderValue:     decimal.Zero,
		TopConvertingProducts: []store.ProductStat{},
		ClickSources:          []store.SourceStat{},
		HourlyDistribution:    []store.HourlyStat{},
	}
	if t.analytics == nil {
		return out
	}

	stats, err := t.analytics.ClickStats(ctx, store.ClickFilter{
		ProductID: productID,
		OutfitID:  outfitID,
		Since:     t.now().Add(-timeframe.Duration()),
	})
	if err != nil {
		t.logger.Warnw("查询点击统计失败", "product_id", productID, "outfit_id", outfitID, "error", err)
		return out
	}

	out.TotalClicks = stats.TotalClicks
	out.UniqueClicks = stats.UniqueClicks
	out.Conversions = stats.Conversions
	out.TotalRevenue = stats.TotalRevenue
	out.TotalCommission = stats.TotalCommission
	out.ConversionRate = ratio(stats.Conversions, stats.TotalClicks)
	if stats.Conversions > 0 {
		out.AverageOrderValue = stats.TotalRevenue.Div(decimal.NewFromInt(stats.Conversions)).Round(2)
	}
	if stats.TopProducts != nil {
		out.TopConvertingProducts = stats.TopProducts
	}
	if stats.Sources != nil {
		out.ClickSources = stats.Sources
	}
	if stats.Hourly != nil {
		out.HourlyDistribution = stats.Hourly
	}
	return out
}

// GetUserEarnings 汇总用户收益，账本或统计查询失败时对应部分返回零值
func (t *Tracker) GetUserEarnings(ctx context.Context, userID string, period Period) UserEarnings {
	out := UserEarnings{
		TotalEarnings:        decimal.Zero,
		PendingEarnings:      decimal.Zero,
		PaidEarnings:         decimal.Zero,
		TopPerformingOutfits: []store.OutfitEarnings{},
		EarningsByBrand:      []store.BrandEarnings{},
		RecentTransactions:   []store.Transaction{},
		PayoutHistory:        []model.Payout{},
	}

	ledger, err := t.ledger.GetEarnings(ctx, userID)
	if err != nil {
		t.logger.Warnw("读取收益账本失败", "user_id", userID, "error", err)
	} else {
		out.TotalEarnings = ledger.Total
		out.PendingEarnings = ledger.Pending
		out.PaidEarnings = ledger.Paid()
	}

	if t.analytics == nil {
		return out
	}
	stats, err := t.analytics.UserStats(ctx, userID, period.since(t.now()))
	if err != nil {
		t.logger.Warnw("查询用户统计失败", "user_id", userID, "error", err)
		return out
	}

	out.TotalClicks = stats.TotalClicks
	out.Conversions = stats.Conversions
	out.ConversionRate = ratio(stats.Conversions, stats.TotalClicks)
	if stats.TopOutfits != nil {
		out.TopPerformingOutfits = stats.TopOutfits
	}
	if stats.ByBrand != nil {
		out.EarningsByBrand = stats.ByBrand
	}
	if stats.Recent != nil {
		out.RecentTransactions = stats.Recent
	}
	if stats.Payouts != nil {
		out.PayoutHistory = stats.Payouts
	}
	return out
}

func ratio(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}
