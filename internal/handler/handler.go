package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"findout-affiliate/internal/middleware"
	"findout-affiliate/internal/model"
	"findout-affiliate/internal/shortcode"
	"findout-affiliate/internal/store"
	"findout-affiliate/internal/tracker"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 后台追踪点击的超时时间，跳转不等待追踪完成
const backgroundTrackTimeout = 10 * time.Second

// AffiliateHandler 联盟链接、点击、转化和统计相关的处理器
type AffiliateHandler struct {
	db            *gorm.DB
	redis         *redis.Client
	sessions      *tracker.Sessions
	codeGenerator *shortcode.Generator
	baseURL       string
	linkCacheTTL  time.Duration
}

// NewAffiliateHandler 创建处理器实例，redisClient 可以为 nil
func NewAffiliateHandler(db *gorm.DB, redisClient *redis.Client, sessions *tracker.Sessions,
	codeGenerator *shortcode.Generator, baseURL string, linkCacheTTL time.Duration) *AffiliateHandler {
	if linkCacheTTL <= 0 {
		linkCacheTTL = 24 * time.Hour
	}
	return &AffiliateHandler{
		db:            db,
		redis:         redisClient,
		sessions:      sessions,
		codeGenerator: codeGenerator,
		baseURL:       baseURL,
		linkCacheTTL:  linkCacheTTL,
	}
}

// session 返回当前请求所属的追踪会话，并把会话 ID 回写给客户端
func (h *AffiliateHandler) session(c *gin.Context) *tracker.Tracker {
	requested := sessionIDFrom(c)
	t := h.sessions.Get(c.Request.Context(), requested, middleware.CurrentUserID(c))
	if t.SessionID() != requested {
		setSessionCookie(c, t.SessionID())
	}
	return t
}

func environmentFrom(c *gin.Context) tracker.Environment {
	return tracker.Environment{
		ClientIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Referrer:  c.Request.Referer(),
		PageURL:   c.GetHeader("X-Page-URL"),
	}
}

// trackInBackground 在跳转之后记录点击
func trackInBackground(c *gin.Context, t *tracker.Tracker, productID, outfitID, originalURL, userID string) {
	env := environmentFrom(c)
	ctx := context.WithoutCancel(c.Request.Context())
	go func() {
		ctx, cancel := context.WithTimeout(ctx, backgroundTrackTimeout)
		defer cancel()
		t.TrackClick(ctx, env, productID, outfitID, originalURL, userID)
	}()
}

// HealthCheck 健康检查
func (h *AffiliateHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
}

// ListPartners godoc
// @Summary 合作商列表
// @Tags Partner
// @Produce  json
// @Router /api/partners [get]
func (h *AffiliateHandler) ListPartners(c *gin.Context) {
	t := h.session(c)
	c.JSON(http.StatusOK, gin.H{
		"partners":   t.Directory().Partners(),
		"match_mode": t.Directory().Mode(),
	})
}

// DetectBrand godoc
// @Summary 识别链接所属合作商
// @Tags Partner
// @Produce  json
// @Param   url  query  string  true  "商品链接"
// @Router /api/partners/detect [get]
func (h *AffiliateHandler) DetectBrand(c *gin.Context) {
	rawURL := c.Query("url")
	if rawURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 url 参数"})
		return
	}
	t := h.session(c)
	resp := gin.H{"partner": nil, "commission_rate": t.GetCommissionRate(rawURL)}
	if p, ok := t.DetectBrand(rawURL); ok {
		resp["partner"] = p
	}
	c.JSON(http.StatusOK, resp)
}

// AffiliateURLRequest 生成联盟链接的请求
type AffiliateURLRequest struct {
	URL       string `json:"url" binding:"required" example:"https://trendyol.com/urun/123"`
	ProductID string `json:"product_id" binding:"required" example:"prod_123"`
	OutfitID  string `json:"outfit_id" example:"outfit_9"`
}

// GenerateAffiliateURL godoc
// @Summary 生成联盟追踪链接
// @Tags Affiliate
// @Accept  json
// @Produce  json
// @Param   body  body  AffiliateURLRequest  true  "商品链接"
// @Router /api/affiliate-url [post]
func (h *AffiliateHandler) GenerateAffiliateURL(c *gin.Context) {
	var req AffiliateURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求数据: " + err.Error()})
		return
	}
	t := h.session(c)
	affiliateURL := t.GenerateAffiliateURL(c.Request.Context(), req.URL, req.ProductID, req.OutfitID, middleware.CurrentUserID(c))
	c.JSON(http.StatusOK, gin.H{"affiliate_url": affiliateURL, "session_id": t.SessionID()})
}

// TrackClick godoc
// @Summary 记录一次点击
// @Tags Affiliate
// @Accept  json
// @Produce  json
// @Param   body  body  AffiliateURLRequest  true  "点击的商品"
// @Success 201 {object} model.ClickEvent
// @Router /api/clicks [post]
func (h *AffiliateHandler) TrackClick(c *gin.Context) {
	var req AffiliateURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求数据: " + err.Error()})
		return
	}
	t := h.session(c)
	click := t.TrackClick(c.Request.Context(), environmentFrom(c), req.ProductID, req.OutfitID, req.URL, middleware.CurrentUserID(c))
	c.JSON(http.StatusCreated, click)
}

// RedirectToAffiliate godoc
// @Summary 跳转到联盟链接
// @Description 生成联盟链接后立即 302 跳转，点击在后台记录
// @Tags Affiliate
// @Param   url         query  string  true   "商品链接"
// @Param   product_id  query  string  true   "商品 ID"
// @Param   outfit_id   query  string  false  "穿搭 ID"
// @Router /go [get]
func (h *AffiliateHandler) RedirectToAffiliate(c *gin.Context) {
	rawURL := c.Query("url")
	productID := c.Query("product_id")
	if rawURL == "" || productID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 url 或 product_id 参数"})
		return
	}
	if _, err := parseRedirectTarget(rawURL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url 必须是 http(s) 链接"})
		return
	}
	outfitID := c.Query("outfit_id")
	userID := middleware.CurrentUserID(c)

	t := h.session(c)
	affiliateURL := t.GenerateAffiliateURL(c.Request.Context(), rawURL, productID, outfitID, userID)
	trackInBackground(c, t, productID, outfitID, rawURL, userID)
	c.Redirect(http.StatusFound, affiliateURL)
}

// ConversionRequest 转化回传
type ConversionRequest struct {
	ClickID    string  `json:"click_id" binding:"required"`
	OrderID    string  `json:"order_id" binding:"required"`
	OrderValue float64 `json:"order_value" binding:"gte=0"`
	Commission float64 `json:"commission" binding:"gte=0"`
}

// TrackConversion godoc
// @Summary 记录转化
// @Description 合作商订单回传，仅管理员可调用。收益记入产生该点击的会话用户。始终返回 202，转化追踪失败只记录日志
// @Tags Admin
// @Security ApiKeyAuth
// @Accept  json
// @Param   body  body  ConversionRequest  true  "转化信息"
// @Router /api/admin/conversions [post]
func (h *AffiliateHandler) TrackConversion(c *gin.Context) {
	var req ConversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求数据: " + err.Error()})
		return
	}

	ctx := c.Request.Context()
	var click model.ClickEvent
	err := h.db.WithContext(ctx).Select("session_id", "user_id").Where("id = ?", req.ClickID).First(&click).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		zap.S().Infow("转化对应的点击不存在", "click_id", req.ClickID, "order_id", req.OrderID)
	case err != nil:
		zap.S().Errorw("查询点击记录失败", "click_id", req.ClickID, "error", err)
	default:
		h.sessions.Get(ctx, click.SessionID, click.UserID).
			TrackConversion(ctx, req.ClickID, req.OrderID, req.OrderValue, req.Commission)
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// ClickAnalytics godoc
// @Summary 点击统计
// @Tags Analytics
// @Security ApiKeyAuth
// @Produce  json
// @Param   product_id  query  string  false  "商品 ID"
// @Param   outfit_id   query  string  false  "穿搭 ID"
// @Param   timeframe   query  string  false  "1d / 7d / 30d"
// @Success 200 {object} tracker.ClickAnalytics
// @Router /api/analytics/clicks [get]
func (h *AffiliateHandler) ClickAnalytics(c *gin.Context) {
	timeframe := tracker.Timeframe(c.DefaultQuery("timeframe", string(tracker.Timeframe7d)))
	analytics := h.session(c).GetClickAnalytics(c.Request.Context(), c.Query("product_id"), c.Query("outfit_id"), timeframe)
	c.JSON(http.StatusOK, analytics)
}

// UserEarnings godoc
// @Summary 当前用户收益
// @Tags Analytics
// @Security ApiKeyAuth
// @Produce  json
// @Param   period  query  string  false  "daily / weekly / monthly / all"
// @Success 200 {object} tracker.UserEarnings
// @Router /api/earnings [get]
func (h *AffiliateHandler) UserEarnings(c *gin.Context) {
	period := tracker.Period(c.DefaultQuery("period", string(tracker.PeriodMonthly)))
	earnings := h.session(c).GetUserEarnings(c.Request.Context(), middleware.CurrentUserID(c), period)
	c.JSON(http.StatusOK, earnings)
}

// SessionClicks 本会话按商品统计的点击次数
func (h *AffiliateHandler) SessionClicks(c *gin.Context) {
	t := h.session(c)
	c.JSON(http.StatusOK, gin.H{"session_id": t.SessionID(), "clicks": t.ClickCounts()})
}

// PayoutRequest 登记打款
type PayoutRequest struct {
	UserID string  `json:"user_id" binding:"required"`
	Amount float64 `json:"amount" binding:"required,gt=0"`
}

// RecordPayout godoc
// @Summary 登记打款
// @Tags Admin
// @Security ApiKeyAuth
// @Accept  json
// @Param   body  body  PayoutRequest  true  "打款信息"
// @Router /api/admin/payouts [post]
func (h *AffiliateHandler) RecordPayout(c *gin.Context) {
	var req PayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求数据: " + err.Error()})
		return
	}
	payout, err := h.session(c).RecordPayout(c.Request.Context(), req.UserID, req.Amount)
	if err != nil {
		writePayoutError(c, err)
		return
	}
	c.JSON(http.StatusCreated, payout)
}

func writePayoutError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrInvalidAmount), errors.Is(err, store.ErrInsufficientPending):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		zap.S().Errorf("登记打款失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "登记打款失败"})
	}
}
