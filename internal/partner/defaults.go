package partner

import (
	"findout-affiliate/internal/model"
)

// Defaults 内置的土耳其时尚品牌合作商
func Defaults() []model.AffiliatePartner {
	return []model.AffiliatePartner{
		{
			ID:               "trendyol",
			Name:             "Trendyol",
			Domain:           "trendyol.com",
			CommissionRate:   8.5,
			CookieDuration:   30,
			TrackingMethod:   model.TrackingURLParam,
			BaseAffiliateURL: "https://ty.gl/findout",
			AffiliateID:      "findout_partner",
		},
		{
			ID:               "hm_turkey",
			Name:             "H&M Turkey",
			Domain:           "hm.com",
			CommissionRate:   7.0,
			CookieDuration:   7,
			TrackingMethod:   model.TrackingURLParam,
			BaseAffiliateURL: "https://www2.hm.com/tr_tr",
			AffiliateID:      "findout_hm",
		},
		{
			ID:               "zara_turkey",
			Name:             "Zara Turkey",
			Domain:           "zara.com",
			CommissionRate:   6.5,
			CookieDuration:   14,
			TrackingMethod:   model.TrackingURLParam,
			BaseAffiliateURL: "https://zara.com/tr",
			AffiliateID:      "findout_zara",
		},
		{
			ID:               "lcwaikiki",
			Name:             "LC Waikiki",
			Domain:           "lcwaikiki.com",
			CommissionRate:   9.0,
			CookieDuration:   21,
			TrackingMethod:   model.TrackingURLParam,
			BaseAffiliateURL: "https://www.lcwaikiki.com/tr-TR",
			AffiliateID:      "findout_lcw",
		},
		{
			ID:               "mango_turkey",
			Name:             "Mango Turkey",
			Domain:           "shop.mango.com",
			CommissionRate:   7.5,
			CookieDuration:   10,
			TrackingMethod:   model.TrackingURLParam,
			BaseAffiliateURL: "https://shop.mango.com/tr",
			AffiliateID:      "findout_mango",
		},
		{
			ID:               "koton",
			Name:             "Koton",
			Domain:           "koton.com",
			CommissionRate:   10.0,
			CookieDuration:   14,
			TrackingMethod:   model.TrackingURLParam,
			BaseAffiliateURL: "https://www.koton.com",
			AffiliateID:      "findout_koton",
		},
		{
			ID:               "defacto",
			Name:             "DeFacto",
			Domain:           "defacto.com.tr",
			CommissionRate:   8.0,
			CookieDuration:   30,
			TrackingMethod:   model.TrackingURLParam,
			BaseAffiliateURL: "https://www.defacto.com.tr",
			AffiliateID:      "findout_defacto",
		},
	}
}
