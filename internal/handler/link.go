package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"findout-affiliate/internal/middleware"
	"findout-affiliate/internal/model"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const linkCachePrefix = "afflink:"

// cachedLink 短链接在 Redis 中的缓存内容
type cachedLink struct {
	TargetURL string `json:"target_url"`
	ProductID string `json:"product_id"`
	OutfitID  string `json:"outfit_id"`
	UserID    string `json:"user_id,omitempty"`
}

// CreateShortLinkResponse 创建短链接的响应
type CreateShortLinkResponse struct {
	ShortURL     string `json:"short_url" example:"http://localhost:8080/s/xxxxxxx"`
	ShortCode    string `json:"short_code"`
	AffiliateURL string `json:"affiliate_url"`
}

// CreateShortLink godoc
// @Summary 创建联盟短链接
// @Description 先生成联盟追踪链接，再分配短码
// @Tags ShortLink
// @Security ApiKeyAuth
// @Accept  json
// @Produce  json
// @Param   body  body   AffiliateURLRequest  true  "商品链接"
// @Success 201 {object} CreateShortLinkResponse "成功响应"
// @Failure 400 {object} gin.H "请求无效"
// @Failure 500 {object} gin.H "服务器内部错误"
// @Router /api/shorten [post]
func (h *AffiliateHandler) CreateShortLink(c *gin.Context) {
	var req AffiliateURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求数据: " + err.Error()})
		return
	}
	if _, err := parseRedirectTarget(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url 必须是 http(s) 链接"})
		return
	}

	userID := middleware.CurrentUserID(c)
	affiliateURL := h.session(c).GenerateAffiliateURL(c.Request.Context(), req.URL, req.ProductID, req.OutfitID, userID)

	code, err := h.codeGenerator.GetCode()
	if err != nil {
		zap.S().Errorf("获取短码失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建短链接失败"})
		return
	}

	link := model.AffiliateLink{
		ShortCode: code,
		TargetURL: affiliateURL,
		ProductID: req.ProductID,
		OutfitID:  req.OutfitID,
		UserID:    userID,
		IsActive:  true,
	}
	if err := h.db.Create(&link).Error; err != nil {
		// 短码池耗尽且并发冲突时可能失败
		zap.S().Errorf("保存短链接失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建短链接失败，可能是数据库错误或短码冲突"})
		return
	}
	h.cacheLink(c.Request.Context(), &link)

	c.JSON(http.StatusCreated, CreateShortLinkResponse{
		ShortURL:     h.shortURL(c, code),
		ShortCode:    code,
		AffiliateURL: affiliateURL,
	})
}

// RedirectShortLink 解析短码并跳转，点击在后台记录，不影响跳转
func (h *AffiliateHandler) RedirectShortLink(c *gin.Context) {
	code := c.Param("code")

	link, ok := h.cachedLink(c.Request.Context(), code)
	if !ok {
		var record model.AffiliateLink
		if err := h.db.Where("short_code = ? AND is_active = ?", code, true).First(&record).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				zap.S().Errorf("查询短链接失败: %v", err)
			}
			c.JSON(http.StatusNotFound, gin.H{"error": "链接不存在或已禁用"})
			return
		}
		h.cacheLink(c.Request.Context(), &record)
		link = cachedLink{TargetURL: record.TargetURL, ProductID: record.ProductID, OutfitID: record.OutfitID, UserID: record.UserID}
	}

	t := h.session(c)
	trackInBackground(c, t, link.ProductID, link.OutfitID, link.TargetURL, link.UserID)
	go h.incrementClickCount(code)
	c.Redirect(http.StatusFound, link.TargetURL)
}

// GetMyLinks 当前用户创建的短链接
func (h *AffiliateHandler) GetMyLinks(c *gin.Context) {
	var links []model.AffiliateLink
	if err := h.db.Where("user_id = ?", middleware.CurrentUserID(c)).Order("created_at DESC").Find(&links).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取链接失败"})
		return
	}
	c.JSON(http.StatusOK, links)
}

// ToggleLink 启用或禁用短链接
func (h *AffiliateHandler) ToggleLink(c *gin.Context) {
	code := c.Param("code")
	var link model.AffiliateLink
	if err := h.db.Where("short_code = ?", code).First(&link).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "链接不存在"})
		return
	}
	newStatus := !link.IsActive
	if err := h.db.Model(&link).Update("is_active", newStatus).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "状态更新失败"})
		return
	}
	h.evictLink(code)
	c.JSON(http.StatusOK, gin.H{"message": "状态更新成功", "is_active": newStatus})
}

// DeleteLink 删除短链接
func (h *AffiliateHandler) DeleteLink(c *gin.Context) {
	code := c.Param("code")
	h.evictLink(code)
	if err := h.db.Where("short_code = ?", code).Delete(&model.AffiliateLink{}).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "删除失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "删除成功"})
}

func (h *AffiliateHandler) incrementClickCount(code string) {
	if err := h.db.Model(&model.AffiliateLink{}).Where("short_code = ?", code).
		Update("click_count", gorm.Expr("click_count + 1")).Error; err != nil {
		zap.S().Warnf("更新短链接点击数失败: %v", err)
	}
}

func (h *AffiliateHandler) cachedLink(ctx context.Context, code string) (cachedLink, bool) {
	if h.redis == nil {
		return cachedLink{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	val, err := h.redis.Get(ctx, linkCachePrefix+code).Bytes()
	if err != nil {
		return cachedLink{}, false
	}
	var link cachedLink
	if json.Unmarshal(val, &link) != nil || link.TargetURL == "" {
		return cachedLink{}, false
	}
	return link, true
}

func (h *AffiliateHandler) cacheLink(ctx context.Context, link *model.AffiliateLink) {
	if h.redis == nil {
		return
	}
	data, err := json.Marshal(cachedLink{
		TargetURL: link.TargetURL,
		ProductID: link.ProductID,
		OutfitID:  link.OutfitID,
		UserID:    link.UserID,
	})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.redis.Set(ctx, linkCachePrefix+link.ShortCode, data, h.linkCacheTTL).Err(); err != nil {
		zap.S().Warnf("缓存短链接失败: %v", err)
	}
}

func (h *AffiliateHandler) evictLink(code string) {
	if h.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.redis.Del(ctx, linkCachePrefix+code)
}

func (h *AffiliateHandler) shortURL(c *gin.Context, code string) string {
	base := strings.TrimRight(h.baseURL, "/")
	if base == "" {
		base = "http://" + c.Request.Host
	}
	return base + "/s/" + code
}

// parseRedirectTarget 只允许跳转到 http(s) 链接
func parseRedirectTarget(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.New("不支持的跳转地址")
	}
	return u, nil
}
