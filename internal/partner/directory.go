package partner

import (
	"errors"
	"net/url"
	"strings"

	"findout-affiliate/internal/model"
)

// MatchMode 决定主机名与合作商域名的比较方式
type MatchMode string

const (
	// MatchSubstring 任意一方包含另一方即视为匹配
	MatchSubstring MatchMode = "substring"
	// MatchSuffix 主机名等于域名或以 "."+域名 结尾
	MatchSuffix MatchMode = "suffix"
)

// DefaultCommissionRate 未匹配合作商时使用的佣金比例（百分比）
const DefaultCommissionRate = 5.0

// Directory 合作商目录，构造后只读，可并发使用
type Directory struct {
	partners []model.AffiliatePartner
	mode     MatchMode
}

// NewDirectory 创建合作商目录。partners 为空时使用内置列表，未知的 mode 按 substring 处理。
func NewDirectory(partners []model.AffiliatePartner, mode MatchMode) *Directory {
	if len(partners) == 0 {
		partners = Defaults()
	}
	if mode != MatchSuffix {
		mode = MatchSubstring
	}
	cp := make([]model.AffiliatePartner, len(partners))
	copy(cp, partners)
	return &Directory{partners: cp, mode: mode}
}

// Partners 返回目录的副本
func (d *Directory) Partners() []model.AffiliatePartner {
	cp := make([]model.AffiliatePartner, len(d.partners))
	copy(cp, d.partners)
	return cp
}

// Mode 返回当前匹配方式
func (d *Directory) Mode() MatchMode {
	return d.mode
}

// MatchHost 按主机名查找合作商，按目录顺序返回第一个匹配项
func (d *Directory) MatchHost(host string) (model.AffiliatePartner, bool) {
	domain := stripWWW(strings.ToLower(host))
	if domain == "" {
		return model.AffiliatePartner{}, false
	}
	for _, p := range d.partners {
		pd := stripWWW(p.Domain)
		if pd == "" {
			continue
		}
		if d.matches(domain, pd) {
			return p, true
		}
	}
	return model.AffiliatePartner{}, false
}

// Detect 解析 URL 并匹配合作商，无法解析时返回 false
func (d *Directory) Detect(rawURL string) (model.AffiliatePartner, bool) {
	u, err := ParseAbsolute(rawURL)
	if err != nil {
		return model.AffiliatePartner{}, false
	}
	return d.MatchHost(u.Hostname())
}

// CommissionRate 返回匹配合作商的佣金比例，未匹配或比例为 0 时返回默认值
func (d *Directory) CommissionRate(rawURL string) float64 {
	if p, ok := d.Detect(rawURL); ok && p.CommissionRate > 0 {
		return p.CommissionRate
	}
	return DefaultCommissionRate
}

func (d *Directory) matches(domain, partnerDomain string) bool {
	if d.mode == MatchSuffix {
		return domain == partnerDomain || strings.HasSuffix(domain, "."+partnerDomain)
	}
	return strings.Contains(domain, partnerDomain) || strings.Contains(partnerDomain, domain)
}

var errNotAbsolute = errors.New("not an absolute url")

// ParseAbsolute 只接受带 scheme 和 host 的绝对 URL
func ParseAbsolute(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, &url.Error{Op: "parse", URL: rawURL, Err: errNotAbsolute}
	}
	return u, nil
}

// stripWWW 去掉第一个 "www."
func stripWWW(s string) string {
	return strings.Replace(s, "www.", "", 1)
}
