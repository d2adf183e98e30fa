package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"findout-affiliate/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingAnalytics struct{}

func (failingAnalytics) ClickStats(context.Context, store.ClickFilter) (*store.ClickStats, error) {
	return nil, errors.New("boom")
}

func (failingAnalytics) UserStats(context.Context, string, time.Time) (*store.UserStats, error) {
	return nil, errors.New("boom")
}

func TestTimeframeAndPeriod(t *testing.T) {
	assert.Equal(t, 24*time.Hour, Timeframe1d.Duration())
	assert.Equal(t, 7*24*time.Hour, Timeframe7d.Duration())
	assert.Equal(t, 30*24*time.Hour, Timeframe30d.Duration())
	assert.Equal(t, 7*24*time.Hour, Timeframe("90d").Duration())

	assert.True(t, PeriodAll.since(fixedNow).IsZero())
	assert.Equal(t, fixedNow.Add(-24*time.Hour), PeriodDaily.since(fixedNow))
	assert.Equal(t, fixedNow.Add(-7*24*time.Hour), PeriodWeekly.since(fixedNow))
	assert.Equal(t, fixedNow.Add(-30*24*time.Hour), PeriodMonthly.since(fixedNow))
	assert.Equal(t, fixedNow.Add(-30*24*time.Hour), Period("").since(fixedNow))
}

func TestGetClickAnalytics_NoSource(t *testing.T) {
	for _, tr := range []*Tracker{New(Options{}), New(Options{Analytics: failingAnalytics{}})} {
		out := tr.GetClickAnalytics(context.Background(), "p1", "", Timeframe7d)

		assert.Zero(t, out.TotalClicks)
		assert.Zero(t, out.ConversionRate)
		assert.True(t, out.TotalRevenue.IsZero())
		assert.True(t, out.AverageOrderValue.IsZero())
		assert.NotNil(t, out.TopConvertingProducts)
		assert.NotNil(t, out.ClickSources)
		assert.NotNil(t, out.HourlyDistribution)
	}
}

func TestGetClickAnalytics(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	ctx := context.Background()

	env := Environment{ClientIP: "1.1.1.1", Referrer: "https://findout.app/feed"}
	first := tr.TrackClick(ctx, env, "p1", "o1", "https://www.trendyol.com/a", "")
	tr.TrackClick(ctx, env, "p1", "o1", "https://www.trendyol.com/a", "")
	second := tr.TrackClick(ctx, Environment{ClientIP: "2.2.2.2"}, "p2", "o2", "https://www.koton.com/b", "")
	tr.TrackConversion(ctx, first.ID, "order_1", 300, 25.5)
	tr.TrackConversion(ctx, second.ID, "order_2", 100, 10)

	out := tr.GetClickAnalytics(ctx, "", "", Timeframe1d)
	assert.Equal(t, int64(3), out.TotalClicks)
	assert.Equal(t, int64(2), out.UniqueClicks)
	assert.Equal(t, int64(2), out.Conversions)
	assert.InDelta(t, 2.0/3.0, out.ConversionRate, 1e-9)
	assert.True(t, out.TotalRevenue.Equal(decimal.NewFromInt(400)))
	assert.True(t, out.TotalCommission.Equal(decimal.NewFromFloat(35.5)))
	assert.True(t, out.AverageOrderValue.Equal(decimal.NewFromInt(200)))

	require.Len(t, out.TopConvertingProducts, 2)
	assert.Equal(t, "p1", out.TopConvertingProducts[0].ProductID)
	require.Len(t, out.ClickSources, 2)
	assert.Equal(t, "findout.app", out.ClickSources[0].Source)
	require.Len(t, out.HourlyDistribution, 24)
	assert.Equal(t, int64(3), out.HourlyDistribution[12].Clicks)

	byOutfit := tr.GetClickAnalytics(ctx, "", "o2", Timeframe30d)
	assert.Equal(t, int64(1), byOutfit.TotalClicks)
	assert.Equal(t, 1.0, byOutfit.ConversionRate)
}

func TestGetUserEarnings(t *testing.T) {
	tr, ledger, _ := newTestTracker(t)
	ctx := context.Background()
	tr.SetUserID(ctx, "user_1")

	a := tr.TrackClick(ctx, Environment{ClientIP: "1.1.1.1"}, "p1", "o1", "https://www.trendyol.com/a", "")
	tr.TrackClick(ctx, Environment{ClientIP: "1.1.1.1"}, "p2", "o1", "https://www.trendyol.com/b", "")
	b := tr.TrackClick(ctx, Environment{ClientIP: "1.1.1.1"}, "p3", "o2", "https://www.zara.com/c", "")
	tr.TrackConversion(ctx, a.ID, "order_1", 500, 35)
	tr.TrackConversion(ctx, b.ID, "order_2", 200, 15)
	_, err := ledger.RecordPayout(ctx, "user_1", decimal.NewFromInt(20))
	require.NoError(t, err)

	out := tr.GetUserEarnings(ctx, "user_1", PeriodAll)
	assert.Equal(t, "50", out.TotalEarnings.String())
	assert.Equal(t, "30", out.PendingEarnings.String())
	assert.Equal(t, "20", out.PaidEarnings.String())
	assert.Equal(t, int64(3), out.TotalClicks)
	assert.Equal(t, int64(2), out.Conversions)
	assert.InDelta(t, 2.0/3.0, out.ConversionRate, 1e-9)

	require.Len(t, out.TopPerformingOutfits, 2)
	assert.Equal(t, "o1", out.TopPerformingOutfits[0].OutfitID)
	require.Len(t, out.EarningsByBrand, 2)
	assert.Equal(t, "trendyol", out.EarningsByBrand[0].PartnerID)
	assert.Len(t, out.RecentTransactions, 2)
	require.Len(t, out.PayoutHistory, 1)
	assert.Equal(t, "20", out.PayoutHistory[0].Amount.String())
}

func TestGetUserEarnings_NoData(t *testing.T) {
	out := New(Options{}).GetUserEarnings(context.Background(), "user_1", PeriodMonthly)

	assert.True(t, out.TotalEarnings.IsZero())
	assert.True(t, out.PendingEarnings.IsZero())
	assert.True(t, out.PaidEarnings.IsZero())
	assert.Zero(t, out.ConversionRate)
	assert.NotNil(t, out.TopPerformingOutfits)
	assert.NotNil(t, out.EarningsByBrand)
	assert.NotNil(t, out.RecentTransactions)
	assert.NotNil(t, out.PayoutHistory)
}
