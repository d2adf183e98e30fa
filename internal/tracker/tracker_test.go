package tracker

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"findout-affiliate/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var fixedNow = time.Date(2026, 10, 15, 12, 30, 0, 0, time.UTC)

// recordingBeacon 记录所有发送的事件
type recordingBeacon struct {
	mu     sync.Mutex
	events []url.Values
}

func (b *recordingBeacon) Fire(params url.Values) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, params)
}

func (b *recordingBeacon) all() []url.Values {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]url.Values(nil), b.events...)
}

type staticIP string

func (s staticIP) LookupIP(context.Context) (string, error) { return string(s), nil }

func newLedger(t *testing.T) *store.GormStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(store.Models()...))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return store.NewGormStore(db)
}

func newTestTracker(t *testing.T) (*Tracker, *store.GormStore, *recordingBeacon) {
	t.Helper()
	ledger := newLedger(t)
	beacon := &recordingBeacon{}
	tr := New(Options{
		Ledger:     ledger,
		Analytics:  ledger,
		IPResolver: staticIP("203.0.113.7"),
		Beacon:     beacon,
		Now:        func() time.Time { return fixedNow },
	})
	return tr, ledger, beacon
}

func TestNew_Defaults(t *testing.T) {
	tr := New(Options{})

	assert.True(t, strings.HasPrefix(tr.SessionID(), "session_"))
	assert.Len(t, tr.Directory().Partners(), 7)
	assert.Empty(t, tr.UserID())
	assert.Empty(t, tr.ClickCounts())

	other := tr.ForSession("")
	assert.NotEqual(t, tr.SessionID(), other.SessionID())
	assert.Equal(t, "session_fixed", tr.ForSession("session_fixed").SessionID())
}

func TestGenerateAffiliateURL_Partner(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	ctx := context.Background()

	out := tr.GenerateAffiliateURL(ctx, "https://www.trendyol.com/p/shirt-123?color=blue", "p1", "o1", "user_1")

	u, err := url.Parse(out)
	require.NoError(t, err)
	assert.Equal(t, "www.trendyol.com", u.Host)
	assert.Equal(t, "/p/shirt-123", u.Path)

	q := u.Query()
	assert.Equal(t, "blue", q.Get("color"))
	assert.Equal(t, "findout_partner", q.Get("affiliate_id"))
	assert.Equal(t, "findout", q.Get("source"))
	assert.Equal(t, "p1", q.Get("product_id"))
	assert.Equal(t, "o1", q.Get("outfit_id"))
	assert.Equal(t, "user_1", q.Get("user_id"))
	assert.Equal(t, tr.SessionID(), q.Get("session_id"))
	assert.Equal(t, fmt.Sprint(fixedNow.UnixMilli()), q.Get("timestamp"))
	assert.Equal(t, "findout", q.Get("utm_source"))
	assert.Equal(t, "affiliate", q.Get("utm_medium"))
	assert.Equal(t, "outfit_discovery", q.Get("utm_campaign"))
	assert.Equal(t, "o1", q.Get("utm_content"))

	prep, ok := tr.PreparedClick(ctx, "p1")
	require.True(t, ok)
	assert.Equal(t, "trendyol", prep.PartnerID)
	assert.Equal(t, "o1", prep.OutfitID)
	assert.Equal(t, "user_1", prep.UserID)
	assert.Equal(t, fixedNow.UnixMilli(), prep.Timestamp)

	// 准备数据按会话隔离
	_, ok = tr.ForSession("").PreparedClick(ctx, "p1")
	assert.False(t, ok)
}

func TestGenerateAffiliateURL_NoUser(t *testing.T) {
	tr, _, _ := newTestTracker(t)

	out := tr.GenerateAffiliateURL(context.Background(), "https://www.zara.com/tr/dress", "p2", "o2", "")

	u, err := url.Parse(out)
	require.NoError(t, err)
	assert.Equal(t, "findout_zara", u.Query().Get("affiliate_id"))
	assert.False(t, u.Query().Has("user_id"))
}

func TestGenerateAffiliateURL_UnknownRetailer(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	ctx := context.Background()

	out := tr.GenerateAffiliateURL(ctx, "https://randomshop.com/item", "p1", "o1", "")

	u, err := url.Parse(out)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "findout", q.Get("ref"))
	assert.Equal(t, "p1", q.Get("product_id"))
	assert.Equal(t, "o1", q.Get("outfit_id"))
	assert.False(t, q.Has("affiliate_id"))
	assert.False(t, q.Has("user_id"))

	_, ok := tr.PreparedClick(ctx, "p1")
	assert.False(t, ok)
}

func TestGenerateAffiliateURL_InvalidInput(t *testing.T) {
	tr, _, _ := newTestTracker(t)

	for _, raw := range []string{"not a url", "", "/relative/path", "://broken"} {
		assert.Equal(t, raw, tr.GenerateAffiliateURL(context.Background(), raw, "p1", "o1", "u1"), raw)
	}
}

func TestTrackClick(t *testing.T) {
	tr, ledger, beacon := newTestTracker(t)
	ctx := context.Background()

	env := Environment{ClientIP: "198.51.100.4", UserAgent: "test-agent", PageURL: "https://findout.app/outfit/o1"}
	click := tr.TrackClick(ctx, env, "p1", "o1", "https://www.koton.com/item/1", "user_1")

	assert.True(t, strings.HasPrefix(click.ID, "click_"))
	assert.Equal(t, "user_1", click.UserID)
	assert.Equal(t, tr.SessionID(), click.SessionID)
	assert.Equal(t, "198.51.100.4", click.IPAddress)
	assert.Equal(t, "test-agent", click.UserAgent)
	assert.Equal(t, "https://findout.app/outfit/o1", click.Referrer)
	assert.Equal(t, "koton", click.PartnerID)
	assert.Equal(t, 10.0, click.CommissionRate)
	assert.False(t, click.Converted)
	assert.True(t, click.Revenue.IsZero())
	assert.True(t, click.CommissionEarned.IsZero())
	assert.Equal(t, fixedNow, click.CreatedAt)

	saved, err := ledger.FindClick(ctx, click.ID)
	require.NoError(t, err)
	assert.Equal(t, "p1", saved.ProductID)

	events := beacon.all()
	require.Len(t, events, 1)
	assert.Equal(t, "click", events[0].Get("event"))
	assert.Equal(t, "p1", events[0].Get("product"))
	assert.Equal(t, "o1", events[0].Get("outfit"))
	assert.Equal(t, click.ID, events[0].Get("click"))
	assert.Equal(t, fmt.Sprint(fixedNow.UnixMilli()), events[0].Get("t"))

	tr.TrackClick(ctx, env, "p1", "o1", "https://www.koton.com/item/1", "")
	tr.TrackClick(ctx, env, "p2", "o1", "https://randomshop.com/x", "")
	assert.Equal(t, map[string]int{"p1": 2, "p2": 1}, tr.ClickCounts())
}

func TestTrackClick_Fallbacks(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	ctx := context.Background()
	tr.SetUserID(ctx, "session_user")

	click := tr.TrackClick(ctx, Environment{Referrer: "https://instagram.com/"}, "p1", "", "https://randomshop.com/x", "")

	assert.Equal(t, "session_user", click.UserID)
	assert.Equal(t, "203.0.113.7", click.IPAddress)
	assert.Equal(t, "https://instagram.com/", click.Referrer)
	assert.Empty(t, click.PartnerID)
	assert.Equal(t, 5.0, click.CommissionRate)
}

func TestTrackClick_IPLookupFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := New(Options{IPResolver: NewHTTPIPResolver(srv.Client(), srv.URL)})
	click := tr.TrackClick(context.Background(), Environment{}, "p1", "o1", "https://www.zara.com/x", "")

	assert.Equal(t, UnknownIP, click.IPAddress)
	assert.Equal(t, 6.5, click.CommissionRate)
}

func TestTrackClick_StorageFailure(t *testing.T) {
	beacon := &recordingBeacon{}
	tr := New(Options{Beacon: beacon})

	click := tr.TrackClick(context.Background(), Environment{ClientIP: "1.2.3.4"}, "p1", "o1", "https://www.zara.com/x", "")

	assert.NotEmpty(t, click.ID)
	assert.Len(t, beacon.all(), 1)
	assert.Equal(t, map[string]int{"p1": 1}, tr.ClickCounts())
}

func TestTrackConversion(t *testing.T) {
	tr, ledger, beacon := newTestTracker(t)
	ctx := context.Background()
	tr.SetUserID(ctx, "user_1")
	require.NoError(t, ledger.AddEarnings(ctx, "user_1", decimal.NewFromInt(100)))

	click := tr.TrackClick(ctx, Environment{ClientIP: "1.1.1.1"}, "p1", "o1", "https://www.trendyol.com/x", "")
	tr.TrackConversion(ctx, click.ID, "order_9", 500, 35)

	saved, err := ledger.FindClick(ctx, click.ID)
	require.NoError(t, err)
	assert.True(t, saved.Converted)
	assert.Equal(t, "order_9", saved.OrderID)
	assert.Equal(t, "500", saved.Revenue.String())
	assert.Equal(t, "35", saved.CommissionEarned.String())

	earnings, err := ledger.GetEarnings(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "135", earnings.Pending.String())

	events := beacon.all()
	require.Len(t, events, 2)
	conv := events[1]
	assert.Equal(t, "conversion", conv.Get("event"))
	assert.Equal(t, click.ID, conv.Get("click"))
	assert.Equal(t, "order_9", conv.Get("order"))
	assert.Equal(t, "500", conv.Get("value"))
	assert.Equal(t, "35", conv.Get("commission"))

	// 重复转化被忽略
	tr.TrackConversion(ctx, click.ID, "order_10", 800, 60)
	earnings, err = ledger.GetEarnings(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "135", earnings.Pending.String())
	assert.Len(t, beacon.all(), 2)
}

func TestTrackConversion_UnknownClick(t *testing.T) {
	tr, ledger, beacon := newTestTracker(t)
	ctx := context.Background()
	tr.SetUserID(ctx, "user_1")

	tr.TrackConversion(ctx, "click_missing", "order_1", 100, 10)

	earnings, err := ledger.GetEarnings(ctx, "user_1")
	require.NoError(t, err)
	assert.True(t, earnings.Total.IsZero())
	assert.Empty(t, beacon.all())
}

func TestTrackConversion_AnonymousSession(t *testing.T) {
	tr, ledger, beacon := newTestTracker(t)
	ctx := context.Background()

	click := tr.TrackClick(ctx, Environment{ClientIP: "1.1.1.1"}, "p1", "o1", "https://www.zara.com/x", "user_2")
	tr.TrackConversion(ctx, click.ID, "order_1", 200, 20)

	saved, err := ledger.FindClick(ctx, click.ID)
	require.NoError(t, err)
	assert.True(t, saved.Converted)

	// 会话未绑定用户时不累加收益
	earnings, err := ledger.GetEarnings(ctx, "user_2")
	require.NoError(t, err)
	assert.True(t, earnings.Pending.IsZero())
	assert.Len(t, beacon.all(), 2)
}

func TestRecordPayout(t *testing.T) {
	tr, ledger, _ := newTestTracker(t)
	ctx := context.Background()
	require.NoError(t, ledger.AddEarnings(ctx, "user_1", decimal.NewFromInt(50)))

	payout, err := tr.RecordPayout(ctx, "user_1", 20)
	require.NoError(t, err)
	assert.Equal(t, "20", payout.Amount.String())

	_, err = tr.RecordPayout(ctx, "user_1", 100)
	assert.ErrorIs(t, err, store.ErrInsufficientPending)

	_, err = New(Options{}).RecordPayout(ctx, "user_1", 10)
	assert.Error(t, err)
}

func TestHTTPIPResolver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ip": " 192.0.2.1 ", "city": "Istanbul"}`))
	}))
	defer srv.Close()

	ip, err := NewHTTPIPResolver(srv.Client(), srv.URL).LookupIP(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1", ip)
}

func TestHTTPBeacon(t *testing.T) {
	received := make(chan url.Values, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.URL.Query()
	}))
	defer srv.Close()

	NewHTTPBeacon(srv.Client(), srv.URL+"/track?v=1", nil).Fire(url.Values{"event": {"click"}, "product": {"p1"}})

	select {
	case q := <-received:
		assert.Equal(t, "1", q.Get("v"))
		assert.Equal(t, "click", q.Get("event"))
		assert.Equal(t, "p1", q.Get("product"))
	case <-time.After(3 * time.Second):
		t.Fatal("追踪请求未送达")
	}
}

func TestGenerateAffiliateURL_KeepsExistingQuery(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	ctx := context.Background()

	out := tr.GenerateAffiliateURL(ctx, "https://randomshop.com/item/5?z=1&q=50%zz&a=2#reviews", "p", "o", "")
	assert.Equal(t, "https://randomshop.com/item/5?z=1&q=50%zz&a=2&ref=findout&product_id=p&outfit_id=o#reviews", out)

	// 已有的同名参数被替换并移到末尾
	out = tr.GenerateAffiliateURL(ctx, "https://randomshop.com/item?product_id=old&z=1&outfit%5Fid=x", "p 1", "o", "")
	assert.Equal(t, "https://randomshop.com/item?z=1&ref=findout&product_id=p+1&outfit_id=o", out)

	out = tr.GenerateAffiliateURL(ctx, "https://www.trendyol.com/p/1?color=blue&utm_source=ig&b=%zz", "p", "o", "")
	require.True(t, strings.HasPrefix(out, "https://www.trendyol.com/p/1?color=blue&b=%zz&affiliate_id=findout_partner&source=findout&"), out)
	assert.Equal(t, 1, strings.Count(out, "utm_source="))
	assert.Contains(t, out, "&utm_source=findout&")
	assert.True(t, strings.HasSuffix(out, "&utm_content=o"), out)
}

func TestAppendParams(t *testing.T) {
	params := []queryParam{{"ref", "findout"}, {"user_id", "a&b"}}

	assert.Equal(t, "ref=findout&user_id=a%26b", appendParams("", params))
	assert.Equal(t, "x=1&ref=findout&user_id=a%26b", appendParams("x=1&&ref=old", params))
	assert.Equal(t, "flag&ref=findout&user_id=a%26b", appendParams("flag&user_id", params))
}

func TestTrackClick_UsesPreparedClick(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	ctx := context.Background()

	tr.GenerateAffiliateURL(ctx, "https://www.koton.com/item/1", "p1", "o1", "user_9")
	click := tr.TrackClick(ctx, Environment{ClientIP: "1.1.1.1"}, "p1", "", "https://www.koton.com/item/1", "")
	assert.Equal(t, "o1", click.OutfitID)
	assert.Equal(t, "user_9", click.UserID)

	// 显式传入的值优先
	click = tr.TrackClick(ctx, Environment{ClientIP: "1.1.1.1"}, "p1", "o2", "https://www.koton.com/item/1", "user_3")
	assert.Equal(t, "o2", click.OutfitID)
	assert.Equal(t, "user_3", click.UserID)

	click = tr.TrackClick(ctx, Environment{ClientIP: "1.1.1.1"}, "p2", "", "https://www.koton.com/item/2", "")
	assert.Empty(t, click.OutfitID)
}

func TestTrackConversion_InvalidAmounts(t *testing.T) {
	tr, ledger, beacon := newTestTracker(t)
	ctx := context.Background()
	tr.SetUserID(ctx, "user_1")
	click := tr.TrackClick(ctx, Environment{ClientIP: "1.1.1.1"}, "p1", "o1", "https://www.zara.com/x", "")

	for _, amounts := range [][2]float64{
		{math.NaN(), 10},
		{100, math.Inf(1)},
		{math.Inf(-1), 10},
		{100, -5},
		{-1, 5},
	} {
		assert.NotPanics(t, func() { tr.TrackConversion(ctx, click.ID, "order_bad", amounts[0], amounts[1]) })
	}

	saved, err := ledger.FindClick(ctx, click.ID)
	require.NoError(t, err)
	assert.False(t, saved.Converted)
	earnings, err := ledger.GetEarnings(ctx, "user_1")
	require.NoError(t, err)
	assert.True(t, earnings.Total.IsZero())
	assert.Len(t, beacon.all(), 1)

	tr.TrackConversion(ctx, click.ID, "order_ok", 0, 0)
	saved, err = ledger.FindClick(ctx, click.ID)
	require.NoError(t, err)
	assert.True(t, saved.Converted)
}

func TestRecordPayout_InvalidAmounts(t *testing.T) {
	tr, ledger, _ := newTestTracker(t)
	ctx := context.Background()
	require.NoError(t, ledger.AddEarnings(ctx, "user_1", decimal.NewFromInt(50)))

	for _, amount := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), -10, 0} {
		var err error
		assert.NotPanics(t, func() { _, err = tr.RecordPayout(ctx, "user_1", amount) })
		assert.ErrorIs(t, err, store.ErrInvalidAmount)
	}

	earnings, err := ledger.GetEarnings(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "50", earnings.Pending.String())
}
