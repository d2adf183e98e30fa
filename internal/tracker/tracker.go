// Package tracker 生成联盟追踪链接，记录点击与转化，并汇总点击统计和用户收益。
//
// 所有追踪操作都是尽力而为：解析失败、网络失败和存储失败只记录日志，
// 调用方拿到的始终是可用的结果，追踪失败不会打断跳转。
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"findout-affiliate/internal/model"
	"findout-affiliate/internal/partner"
	"findout-affiliate/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	sourceTag         = "findout"
	defaultTTL        = 30 * time.Minute
	userSessionKey    = "user_id"
	trackingKeyPrefix = "tracking_"
)

// Options 构造 Tracker 所需的依赖，除 Directory 外均可为空
type Options struct {
	Directory  *partner.Directory
	Ledger     store.Ledger
	Analytics  store.AnalyticsSource
	Session    store.SessionStore
	IPResolver IPResolver
	Beacon     Beacon
	Logger     *zap.SugaredLogger
	SessionTTL time.Duration
	Now        func() time.Time
}

// deps 同一进程内所有会话共享的依赖
type deps struct {
	dir       *partner.Directory
	ledger    store.Ledger
	analytics store.AnalyticsSource
	session   store.SessionStore
	ip        IPResolver
	beacon    Beacon
	logger    *zap.SugaredLogger
	ttl       time.Duration
	now       func() time.Time
}

// Tracker 一个追踪会话：共享依赖 + 会话 ID、当前用户和按商品计数的点击数
type Tracker struct {
	*deps
	sessionID string

	mu       sync.Mutex
	userID   string
	counters map[string]int
}

// New 创建追踪器并生成新的会话 ID
func New(opts Options) *Tracker {
	d := &deps{
		dir:       opts.Directory,
		ledger:    opts.Ledger,
		analytics: opts.Analytics,
		session:   opts.Session,
		ip:        opts.IPResolver,
		beacon:    opts.Beacon,
		logger:    opts.Logger,
		ttl:       opts.SessionTTL,
	}
	if d.dir == nil {
		d.dir = partner.NewDirectory(nil, partner.MatchSubstring)
	}
	if d.ledger == nil {
		d.ledger = disabledLedger{}
	}
	if d.session == nil {
		d.session = store.NewMemorySessionStore()
	}
	if d.beacon == nil {
		d.beacon = nopBeacon{}
	}
	if d.logger == nil {
		d.logger = zap.NewNop().Sugar()
	}
	d.logger = d.logger.Named("tracker")
	if d.ttl <= 0 {
		d.ttl = defaultTTL
	}
	clock := opts.Now
	if clock == nil {
		clock = time.Now
	}
	d.now = func() time.Time { return clock().UTC() }
	return d.newSession("")
}

func (d *deps) newSession(sessionID string) *Tracker {
	if sessionID == "" {
		sessionID = newSessionID()
	}
	return &Tracker{deps: d, sessionID: sessionID, counters: make(map[string]int)}
}

// ForSession 返回共享依赖的另一个会话
func (t *Tracker) ForSession(sessionID string) *Tracker {
	return t.deps.newSession(sessionID)
}

func (t *Tracker) SessionID() string {
	return t.sessionID
}

// Directory 返回合作商目录
func (t *Tracker) Directory() *partner.Directory {
	return t.dir
}

// SetUserID 绑定会话的当前用户，并把会话与用户的关联写入会话存储
func (t *Tracker) SetUserID(ctx context.Context, userID string) {
	t.mu.Lock()
	t.userID = userID
	t.mu.Unlock()

	if userID == "" {
		return
	}
	if err := t.session.Set(ctx, t.sessionKey(userSessionKey), []byte(userID), t.ttl); err != nil {
		t.logger.Warnw("保存会话用户失败", "session_id", t.sessionID, "error", err)
	}
}

func (t *Tracker) UserID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.userID
}

// ClickCounts 返回本会话按商品统计的点击次数
func (t *Tracker) ClickCounts() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.counters))
	for k, v := range t.counters {
		out[k] = v
	}
	return out
}

// DetectBrand 按域名匹配合作商
func (t *Tracker) DetectBrand(rawURL string) (model.AffiliatePartner, bool) {
	return t.dir.Detect(rawURL)
}

// GetCommissionRate 返回佣金比例（百分比），未匹配时为 5.0
func (t *Tracker) GetCommissionRate(rawURL string) float64 {
	return t.dir.CommissionRate(rawURL)
}

// GenerateAffiliateURL 把商品原始链接改写为带联盟参数的链接，永不失败
func (t *Tracker) GenerateAffiliateURL(ctx context.Context, originalURL, productID, outfitID, userID string) string {
	u, err := partner.ParseAbsolute(originalURL)
	if err != nil {
		t.logger.Debugw("链接无法解析，使用基础追踪参数", "url", originalURL, "error", err)
		return addTrackingParams(originalURL, productID, outfitID, userID)
	}

	p, ok := t.dir.MatchHost(u.Hostname())
	if !ok {
		return addTrackingParams(originalURL, productID, outfitID, userID)
	}

	affiliateURL := t.buildAffiliateURL(u, p, productID, outfitID, userID)
	t.prepareClickTracking(ctx, productID, outfitID, p, userID)
	return affiliateURL
}

func (t *Tracker) buildAffiliateURL(u *url.URL, p model.AffiliatePartner, productID, outfitID, userID string) string {
	params := []queryParam{
		{"affiliate_id", p.AffiliateID},
		{"source", sourceTag},
		{"product_id", productID},
		{"outfit_id", outfitID},
	}
	if userID != "" {
		params = append(params, queryParam{"user_id", userID})
	}
	params = append(params,
		queryParam{"session_id", t.sessionID},
		queryParam{"timestamp", strconv.FormatInt(t.now().UnixMilli(), 10)},
		queryParam{"utm_source", sourceTag},
		queryParam{"utm_medium", "affiliate"},
		queryParam{"utm_campaign", "outfit_discovery"},
		queryParam{"utm_content", outfitID},
	)

	out := *u
	out.RawQuery = appendParams(u.RawQuery, params)
	return out.String()
}

// addTrackingParams 未匹配合作商时的基础追踪参数，解析失败时原样返回
func addTrackingParams(rawURL, productID, outfitID, userID string) string {
	u, err := partner.ParseAbsolute(rawURL)
	if err != nil {
		return rawURL
	}
	params := []queryParam{
		{"ref", sourceTag},
		{"product_id", productID},
		{"outfit_id", outfitID},
	}
	if userID != "" {
		params = append(params, queryParam{"user_id", userID})
	}
	u.RawQuery = appendParams(u.RawQuery, params)
	return u.String()
}

type queryParam struct {
	key, value string
}

// appendParams 保留原查询串的顺序和原始写法，只移除将被覆盖的键，再按顺序追加新参数
func appendParams(rawQuery string, params []queryParam) string {
	replaced := make(map[string]bool, len(params))
	for _, p := range params {
		replaced[p.key] = true
	}

	parts := make([]string, 0, len(params)+strings.Count(rawQuery, "&")+1)
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		key, _, _ := strings.Cut(pair, "=")
		if decoded, err := url.QueryUnescape(key); err == nil {
			key = decoded
		}
		if replaced[key] {
			continue
		}
		parts = append(parts, pair)
	}
	for _, p := range params {
		parts = append(parts, url.QueryEscape(p.key)+"="+url.QueryEscape(p.value))
	}
	return strings.Join(parts, "&")
}

// ClickPreparation 生成链接时写入会话存储的点击准备数据
type ClickPreparation struct {
	ProductID string `json:"product_id"`
	OutfitID  string `json:"outfit_id"`
	PartnerID string `json:"partner_id"`
	UserID    string `json:"user_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func (t *Tracker) prepareClickTracking(ctx context.Context, productID, outfitID string, p model.AffiliatePartner, userID string) {
	data, err := json.Marshal(ClickPreparation{
		ProductID: productID,
		OutfitID:  outfitID,
		PartnerID: p.ID,
		UserID:    userID,
		Timestamp: t.now().UnixMilli(),
	})
	if err != nil {
		return
	}
	if err := t.session.Set(ctx, t.sessionKey(trackingKeyPrefix+productID), data, t.ttl); err != nil {
		t.logger.Warnw("保存点击准备数据失败", "product_id", productID, "error", err)
	}
}

// PreparedClick 读取本会话中某商品的点击准备数据
func (t *Tracker) PreparedClick(ctx context.Context, productID string) (*ClickPreparation, bool) {
	data, err := t.session.Get(ctx, t.sessionKey(trackingKeyPrefix+productID))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			t.logger.Warnw("读取点击准备数据失败", "product_id", productID, "error", err)
		}
		return nil, false
	}
	var prep ClickPreparation
	if err := json.Unmarshal(data, &prep); err != nil {
		return nil, false
	}
	return &prep, true
}

func (t *Tracker) sessionKey(name string) string {
	return t.sessionID + ":" + name
}

// Environment 点击发生时的请求环境
type Environment struct {
	ClientIP  string
	UserAgent string
	Referrer  string
	PageURL   string
}

// TrackClick 记录一次外链点击。缺少穿搭或用户时使用生成链接时保存的点击准备数据。
// 存储失败只记日志，返回值始终完整。
func (t *Tracker) TrackClick(ctx context.Context, env Environment, productID, outfitID, originalURL, userID string) model.ClickEvent {
	if userID == "" {
		userID = t.UserID()
	}
	if outfitID == "" || userID == "" {
		if prep, ok := t.PreparedClick(ctx, productID); ok {
			if outfitID == "" {
				outfitID = prep.OutfitID
			}
			if userID == "" {
				userID = prep.UserID
			}
		}
	}
	ip := env.ClientIP
	if ip == "" {
		ip = t.lookupIP(ctx)
	}
	referrer := env.Referrer
	if referrer == "" {
		referrer = env.PageURL
	}

	click := model.ClickEvent{
		ID:               newClickID(),
		UserID:           userID,
		SessionID:        t.sessionID,
		ProductID:        productID,
		OutfitID:         outfitID,
		IPAddress:        ip,
		UserAgent:        env.UserAgent,
		Referrer:         referrer,
		Converted:        false,
		Revenue:          decimal.Zero,
		CommissionRate:   t.dir.CommissionRate(originalURL),
		CommissionEarned: decimal.Zero,
		CreatedAt:        t.now(),
	}
	if p, ok := t.dir.Detect(originalURL); ok {
		click.PartnerID = p.ID
	}

	if err := t.ledger.SaveClick(ctx, &click); err != nil {
		t.logger.Warnw("保存点击记录失败", "click_id", click.ID, "product_id", productID, "error", err)
	}

	t.beacon.Fire(url.Values{
		"event":   {"click"},
		"product": {productID},
		"outfit":  {outfitID},
		"click":   {click.ID},
		"t":       {strconv.FormatInt(t.now().UnixMilli(), 10)},
	})

	t.mu.Lock()
	t.counters[productID]++
	t.mu.Unlock()

	return click
}

func (t *Tracker) lookupIP(ctx context.Context) string {
	if t.ip == nil {
		return UnknownIP
	}
	ip, err := t.ip.LookupIP(ctx)
	if err != nil || ip == "" {
		t.logger.Debugw("查询客户端 IP 失败", "error", err)
		return UnknownIP
	}
	return ip
}

// TrackConversion 把点击标记为已转化并为当前会话用户累加待结算收益。
// 未知点击、已转化的点击和无效金额不做任何处理，存储失败只记日志。
func (t *Tracker) TrackConversion(ctx context.Context, clickID, orderID string, orderValue, commission float64) {
	if !validAmount(orderValue) || !validAmount(commission) {
		t.logger.Warnw("转化金额无效，忽略", "click_id", clickID, "order_id", orderID,
			"order_value", orderValue, "commission", commission)
		return
	}
	value := decimal.NewFromFloat(orderValue)
	earned := decimal.NewFromFloat(commission)

	conv := &model.Conversion{
		ClickID:    clickID,
		OrderID:    orderID,
		OrderValue: value,
		Commission: earned,
		CreatedAt:  t.now(),
	}
	if err := t.ledger.MarkConverted(ctx, clickID, conv); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			t.logger.Infow("转化对应的点击不存在", "click_id", clickID, "order_id", orderID)
		case errors.Is(err, store.ErrAlreadyConverted):
			t.logger.Infow("点击已转化，忽略重复转化", "click_id", clickID, "order_id", orderID)
		default:
			t.logger.Errorw("转化追踪失败", "click_id", clickID, "order_id", orderID, "error", err)
		}
		return
	}

	if userID := t.UserID(); userID != "" {
		if err := t.ledger.AddEarnings(ctx, userID, earned); err != nil {
			t.logger.Errorw("更新用户收益失败", "user_id", userID, "click_id", clickID, "error", err)
		}
	}

	t.beacon.Fire(url.Values{
		"event":      {"conversion"},
		"click":      {clickID},
		"order":      {orderID},
		"value":      {strconv.FormatFloat(orderValue, 'f', -1, 64)},
		"commission": {strconv.FormatFloat(commission, 'f', -1, 64)},
		"t":          {strconv.FormatInt(t.now().UnixMilli(), 10)},
	})
}

// RecordPayout 为用户登记一笔打款，从待结算中扣除
func (t *Tracker) RecordPayout(ctx context.Context, userID string, amount float64) (*model.Payout, error) {
	if !validAmount(amount) {
		return nil, store.ErrInvalidAmount
	}
	return t.ledger.RecordPayout(ctx, userID, decimal.NewFromFloat(amount))
}

// validAmount 金额必须是非负的有限数
func validAmount(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

func newSessionID() string {
	return "session_" + uuid.NewString()
}

func newClickID() string {
	return "click_" + uuid.NewString()
}
