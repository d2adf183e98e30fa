package model

// TrackingMethod 合作商的追踪方式
type TrackingMethod string

const (
	TrackingURLParam TrackingMethod = "url_param"
	TrackingPixel    TrackingMethod = "pixel"
	TrackingPostback TrackingMethod = "postback"
)

// AffiliatePartner 联盟合作商（静态参考数据，启动后不可变）。
// BaseAffiliateURL 仅作为参考数据保存，生成链接时不会跳转到这里。
type AffiliatePartner struct {
	ID               string         `yaml:"id" json:"id"`
	Name             string         `yaml:"name" json:"name"`
	Domain           string         `yaml:"domain" json:"domain"`
	CommissionRate   float64        `yaml:"commission_rate" json:"commission_rate"` // 百分比
	CookieDuration   int            `yaml:"cookie_duration" json:"cookie_duration"` // 天
	TrackingMethod   TrackingMethod `yaml:"tracking_method" json:"tracking_method"`
	BaseAffiliateURL string         `yaml:"base_affiliate_url" json:"base_affiliate_url"`
	AffiliateID      string         `yaml:"affiliate_id" json:"affiliate_id"`
}
