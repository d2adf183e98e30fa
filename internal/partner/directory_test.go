package partner

import (
	"testing"

	"findout-affiliate/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect_DefaultPartners(t *testing.T) {
	d := NewDirectory(nil, MatchSubstring)

	tests := []struct {
		url       string
		partnerID string
	}{
		{"https://trendyol.com/urun/123", "trendyol"},
		{"https://www.trendyol.com/urun/123", "trendyol"},
		{"https://WWW.TRENDYOL.COM/urun/123", "trendyol"},
		{"https://www2.hm.com/tr_tr/productpage.123.html", "hm_turkey"},
		{"https://www.zara.com/tr/en/shirt-p1.html", "zara_turkey"},
		{"https://www.lcwaikiki.com/tr-TR/TR/urun/1", "lcwaikiki"},
		{"https://shop.mango.com/tr/kadin/1", "mango_turkey"},
		{"https://www.koton.com/tr/elbise/p/1", "koton"},
		{"https://www.defacto.com.tr/kadin-1", "defacto"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			p, ok := d.Detect(tt.url)
			require.True(t, ok)
			assert.Equal(t, tt.partnerID, p.ID)
		})
	}
}

func TestDetect_NoMatch(t *testing.T) {
	d := NewDirectory(nil, MatchSubstring)

	for _, raw := range []string{
		"https://randomshop.com/item/5",
		"not a url",
		"/relative/path",
		"mailto:someone@example.com",
		"",
	} {
		_, ok := d.Detect(raw)
		assert.False(t, ok, raw)
	}
}

// 子串匹配是双向的：主机名是合作商域名的一部分时也会匹配
func TestDetect_SubstringIsBidirectional(t *testing.T) {
	d := NewDirectory(nil, MatchSubstring)

	p, ok := d.Detect("https://mango.com/tr")
	require.True(t, ok)
	assert.Equal(t, "mango_turkey", p.ID)

	p, ok = d.Detect("https://notzara.com.example/x")
	require.True(t, ok)
	assert.Equal(t, "zara_turkey", p.ID)
}

func TestDetect_SuffixMode(t *testing.T) {
	d := NewDirectory(nil, MatchSuffix)
	assert.Equal(t, MatchSuffix, d.Mode())

	p, ok := d.Detect("https://www.zara.com/tr")
	require.True(t, ok)
	assert.Equal(t, "zara_turkey", p.ID)

	p, ok = d.Detect("https://www2.hm.com/tr_tr")
	require.True(t, ok)
	assert.Equal(t, "hm_turkey", p.ID)

	_, ok = d.Detect("https://notzara.com.example/x")
	assert.False(t, ok)
	_, ok = d.Detect("https://mango.com/tr")
	assert.False(t, ok)
}

func TestCommissionRate(t *testing.T) {
	d := NewDirectory(nil, MatchSubstring)

	assert.Equal(t, 8.5, d.CommissionRate("https://trendyol.com/urun/123"))
	assert.Equal(t, 10.0, d.CommissionRate("https://www.koton.com/x"))
	assert.Equal(t, 5.0, d.CommissionRate("https://randomshop.com/item/5"))
	assert.Equal(t, 5.0, d.CommissionRate("::::"))
}

func TestCommissionRate_ZeroRateFallsBackToDefault(t *testing.T) {
	d := NewDirectory([]model.AffiliatePartner{
		{ID: "free", Domain: "free.example", CommissionRate: 0, AffiliateID: "fo_free"},
	}, MatchSubstring)

	assert.Equal(t, DefaultCommissionRate, d.CommissionRate("https://free.example/a"))
}

func TestNewDirectory_CopiesInput(t *testing.T) {
	partners := []model.AffiliatePartner{{ID: "a", Domain: "a.example", CommissionRate: 3}}
	d := NewDirectory(partners, "unknown-mode")
	partners[0].Domain = "b.example"

	assert.Equal(t, MatchSubstring, d.Mode())
	_, ok := d.Detect("https://a.example/")
	assert.True(t, ok)

	out := d.Partners()
	out[0].ID = "changed"
	assert.Equal(t, "a", d.Partners()[0].ID)
}

func TestParseAbsolute(t *testing.T) {
	u, err := ParseAbsolute("https://www.zara.com/tr?x=1")
	require.NoError(t, err)
	assert.Equal(t, "www.zara.com", u.Host)

	for _, raw := range []string{"/relative", "zara.com/tr", "mailto:a@b.c"} {
		_, err := ParseAbsolute(raw)
		assert.ErrorIs(t, err, errNotAbsolute, raw)
	}
}
