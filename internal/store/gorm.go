package store

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"time"

	"findout-affiliate/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	topProductsLimit  = 10
	topSourcesLimit   = 10
	topOutfitsLimit   = 5
	recentTxLimit     = 10
	payoutsLimit      = 20
	directSourceLabel = "direct"
)

// GormStore 基于 gorm 的账本实现，同时提供统计数据
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建账本
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Models 返回需要迁移的表
func Models() []interface{} {
	return []interface{}{
		&model.ClickEvent{},
		&model.Conversion{},
		&model.EarningsLedger{},
		&model.Payout{},
	}
}

func (s *GormStore) SaveClick(ctx context.Context, click *model.ClickEvent) error {
	return s.db.WithContext(ctx).Create(click).Error
}

func (s *GormStore) FindClick(ctx context.Context, id string) (*model.ClickEvent, error) {
	var click model.ClickEvent
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&click).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &click, nil
}

func (s *GormStore) MarkConverted(ctx context.Context, clickID string, conv *model.Conversion) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.ClickEvent{}).
			Where("id = ? AND converted = ?", clickID, false).
			Updates(map[string]interface{}{
				"converted":         true,
				"revenue":           conv.OrderValue,
				"order_id":          conv.OrderID,
				"commission_earned": conv.Commission,
				"conversion_time":   conv.CreatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&model.ClickEvent{}).Where("id = ?", clickID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrNotFound
			}
			return ErrAlreadyConverted
		}
		conv.ClickID = clickID
		return tx.Create(conv).Error
	})
}

func (s *GormStore) AddEarnings(ctx context.Context, userID string, amount decimal.Decimal) error {
	ledger := model.EarningsLedger{UserID: userID, Total: amount, Pending: amount}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total":      gorm.Expr("total + ?", amount),
			"pending":    gorm.Expr("pending + ?", amount),
			"updated_at": time.Now(),
		}),
	}).Create(&ledger).Error
}

func (s *GormStore) GetEarnings(ctx context.Context, userID string) (model.EarningsLedger, error) {
	var ledger model.EarningsLedger
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&ledger).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.EarningsLedger{UserID: userID}, nil
	}
	return ledger, err
}

func (s *GormStore) RecordPayout(ctx context.Context, userID string, amount decimal.Decimal) (*model.Payout, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	payout := &model.Payout{UserID: userID, Amount: amount}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ledger model.EarningsLedger
		if err := tx.Where("user_id = ?", userID).First(&ledger).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInsufficientPending
			}
			return err
		}
		if ledger.Pending.LessThan(amount) {
			return ErrInsufficientPending
		}
		if err := tx.Model(&model.EarningsLedger{}).Where("user_id = ?", userID).
			Update("pending", gorm.Expr("pending - ?", amount)).Error; err != nil {
			return err
		}
		return tx.Create(payout).Error
	})
	if err != nil {
		return nil, err
	}
	return payout, nil
}

// scope 应用过滤条件
func (f ClickFilter) scope(db *gorm.DB) *gorm.DB {
	if f.ProductID != "" {
		db = db.Where("product_id = ?", f.ProductID)
	}
	if f.OutfitID != "" {
		db = db.Where("outfit_id = ?", f.OutfitID)
	}
	if !f.Since.IsZero() {
		db = db.Where("created_at >= ?", f.Since)
	}
	return db
}

func (s *GormStore) ClickStats(ctx context.Context, filter ClickFilter) (*ClickStats, error) {
	db := s.db.WithContext(ctx)
	clicks := func() *gorm.DB { return db.Model(&model.ClickEvent{}).Scopes(filter.scope) }

	var agg struct {
		Total       int64
		Uniq        int64
		Conversions int64
		Revenue     decimal.Decimal
		Commission  decimal.Decimal
	}
	err := clicks().Select(
		"COUNT(*) AS total, COUNT(DISTINCT ip_address) AS uniq, "+
			"COALESCE(SUM(CASE WHEN converted = ? THEN 1 ELSE 0 END), 0) AS conversions, "+
			"COALESCE(SUM(revenue), 0) AS revenue, COALESCE(SUM(commission_earned), 0) AS commission", true,
	).Scan(&agg).Error
	if err != nil {
		return nil, err
	}

	stats := &ClickStats{
		TotalClicks:     agg.Total,
		UniqueClicks:    agg.Uniq,
		Conversions:     agg.Conversions,
		TotalRevenue:    agg.Revenue,
		TotalCommission: agg.Commission,
		TopProducts:     []ProductStat{},
		Sources:         []SourceStat{},
		Hourly:          []HourlyStat{},
	}
	if agg.Total == 0 {
		return stats, nil
	}

	if err := clicks().
		Select("product_id, COUNT(*) AS clicks, "+
			"SUM(CASE WHEN converted = ? THEN 1 ELSE 0 END) AS conversions, "+
			"COALESCE(SUM(revenue), 0) AS revenue", true).
		Group("product_id").
		Having("SUM(CASE WHEN converted = ? THEN 1 ELSE 0 END) > 0", true).
		Order("conversions DESC, revenue DESC").
		Limit(topProductsLimit).
		Scan(&stats.TopProducts).Error; err != nil {
		return nil, err
	}

	var referrers []struct {
		Referrer string
		Clicks   int64
	}
	if err := clicks().Select("referrer, COUNT(*) AS clicks").Group("referrer").Scan(&referrers).Error; err != nil {
		return nil, err
	}
	stats.Sources = foldSources(referrers)

	var created []time.Time
	if err := clicks().Pluck("created_at", &created).Error; err != nil {
		return nil, err
	}
	stats.Hourly = hourlyBuckets(created)

	return stats, nil
}

func (s *GormStore) UserStats(ctx context.Context, userID string, since time.Time) (*UserStats, error) {
	db := s.db.WithContext(ctx)
	filter := ClickFilter{Since: since}
	userClicks := func() *gorm.DB {
		return db.Model(&model.ClickEvent{}).Scopes(filter.scope).Where("user_id = ?", userID)
	}
	converted := func() *gorm.DB { return userClicks().Where("converted = ?", true) }

	stats := &UserStats{
		TopOutfits: []OutfitEarnings{},
		ByBrand:    []BrandEarnings{},
		Recent:     []Transaction{},
		Payouts:    []model.Payout{},
	}
	if err := userClicks().Count(&stats.TotalClicks).Error; err != nil {
		return nil, err
	}
	if err := converted().Count(&stats.Conversions).Error; err != nil {
		return nil, err
	}

	if stats.Conversions > 0 {
		if err := converted().
			Select("outfit_id, COUNT(*) AS conversions, COALESCE(SUM(commission_earned), 0) AS earnings").
			Group("outfit_id").
			Order("earnings DESC").
			Limit(topOutfitsLimit).
			Scan(&stats.TopOutfits).Error; err != nil {
			return nil, err
		}
		if err := converted().
			Select("partner_id, COUNT(*) AS conversions, COALESCE(SUM(commission_earned), 0) AS earnings").
			Group("partner_id").
			Order("earnings DESC").
			Scan(&stats.ByBrand).Error; err != nil {
			return nil, err
		}

		var recent []model.ClickEvent
		if err := converted().Order("conversion_time DESC").Limit(recentTxLimit).Find(&recent).Error; err != nil {
			return nil, err
		}
		for _, c := range recent {
			tx := Transaction{
				ClickID:    c.ID,
				OrderID:    c.OrderID,
				ProductID:  c.ProductID,
				PartnerID:  c.PartnerID,
				OrderValue: c.Revenue,
				Commission: c.CommissionEarned,
			}
			if c.ConversionTime != nil {
				tx.ConvertedAt = *c.ConversionTime
			}
			stats.Recent = append(stats.Recent, tx)
		}
	}

	if err := db.Where("user_id = ?", userID).Order("created_at DESC").Limit(payoutsLimit).
		Find(&stats.Payouts).Error; err != nil {
		return nil, err
	}
	return stats, nil
}

// foldSources 按来源主机名聚合
func foldSources(rows []struct {
	Referrer string
	Clicks   int64
}) []SourceStat {
	byHost := make(map[string]int64)
	for _, r := range rows {
		byHost[sourceLabel(r.Referrer)] += r.Clicks
	}
	out := make([]SourceStat, 0, len(byHost))
	for src, n := range byHost {
		out = append(out, SourceStat{Source: src, Clicks: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Clicks != out[j].Clicks {
			return out[i].Clicks > out[j].Clicks
		}
		return out[i].Source < out[j].Source
	})
	if len(out) > topSourcesLimit {
		out = out[:topSourcesLimit]
	}
	return out
}

func sourceLabel(referrer string) string {
	if referrer == "" {
		return directSourceLabel
	}
	u, err := url.Parse(referrer)
	if err != nil || u.Hostname() == "" {
		return referrer
	}
	return u.Hostname()
}

// hourlyBuckets 按 UTC 小时统计，返回 24 个桶
func hourlyBuckets(times []time.Time) []HourlyStat {
	out := make([]HourlyStat, 24)
	for h := range out {
		out[h].Hour = h
	}
	for _, t := range times {
		out[t.UTC().Hour()].Clicks++
	}
	return out
}
