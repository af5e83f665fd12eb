package site

import (
	"context"
	"errors"
	"testing"

	"altfinder/internal/extract"
	"altfinder/internal/source"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// URL 构造测试
// ============================================================================

func TestAmazonSearchURL(t *testing.T) {
	p := Amazon()
	tests := []struct {
		name     string
		seedURL  string
		query    string
		expected string
	}{
		{"seed_host_in", "https://www.amazon.in/dp/B0ABCDEF12", "acme wireless mouse", "https://www.amazon.in/s?k=acme%20wireless%20mouse"},
		{"seed_host_de", "https://www.amazon.de/Acme/dp/B0ABCDEF12?th=1", "acme mouse", "https://www.amazon.de/s?k=acme%20mouse"},
		{"invalid_seed_uses_default", "not a url", "mouse", "https://www.amazon.in/s?k=mouse"},
		{"foreign_host_uses_default", "https://example.com/x", "mouse", "https://www.amazon.in/s?k=mouse"},
		{"escapes_symbols", "https://www.amazon.com/dp/B0ABCDEF12", "a&b mouse", "https://www.amazon.com/s?k=a%26b%20mouse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.SearchURL(tt.seedURL, tt.query); got != tt.expected {
				t.Errorf("SearchURL() = %q, expected %q", got, tt.expected)
			}
		})
	}
}

func TestAlternateURL(t *testing.T) {
	got, ok := Amazon().AlternateURL("https://www.amazon.com/dp/B0ABCDEF12", "B0ABCDEF12")
	require.True(t, ok)
	assert.Equal(t, "https://www.amazon.com/gp/aw/d/B0ABCDEF12", got)

	_, ok = Amazon().AlternateURL("https://www.amazon.com/dp/B0ABCDEF12", "")
	assert.False(t, ok, "unknown identifier has no alternate page")

	_, ok = Trendyol().AlternateURL("https://www.trendyol.com/x-p-123", "123")
	assert.False(t, ok, "site without alternate page")
}

func TestIdentifierFromURL(t *testing.T) {
	p := Amazon()
	tests := []struct {
		url      string
		expected string
	}{
		{"https://www.amazon.in/Acme-Wireless-Mouse/dp/B0ABCDEF12/ref=sr_1_1", "B0ABCDEF12"},
		{"https://www.amazon.de/gp/product/b0abcdef12?th=1", "B0ABCDEF12"},
		{"https://www.amazon.in/gp/aw/d/B0ABCDEF12", "B0ABCDEF12"},
		{"https://www.amazon.in/s?k=mouse", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.expected, p.IdentifierFromURL(tt.url))
		})
	}

	assert.Equal(t, "123456", Trendyol().IdentifierFromURL("https://www.trendyol.com/acme/mouse-p-123456?boutiqueId=1"))
}

func TestCanonicalURL(t *testing.T) {
	p := Amazon()
	base := "https://www.amazon.in/s?k=mouse"
	tests := []struct {
		name     string
		href     string
		base     string
		expected string
	}{
		{"relative_listing_link", "/Acme-Wireless-Mouse/dp/B0ABCDEF12/ref=sr_1_1?keywords=mouse&qid=1", base, "https://www.amazon.in/dp/B0ABCDEF12"},
		{"absolute_gp_product", "https://www.amazon.de/gp/product/b0abcdef12?th=1", base, "https://www.amazon.de/dp/B0ABCDEF12"},
		{"no_identifier_strips_query", "/stores/page?x=1#reviews", base, "https://www.amazon.in/stores/page"},
		{"empty_base_uses_default_host", "/dp/B0ABCDEF12", "", "https://www.amazon.in/dp/B0ABCDEF12"},
		{"javascript_rejected", "javascript:void(0)", base, ""},
		{"empty", "", base, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.CanonicalURL(tt.href, tt.base); got != tt.expected {
				t.Errorf("CanonicalURL(%q) = %q, expected %q", tt.href, got, tt.expected)
			}
		})
	}
}

// ============================================================================
// Registry 测试
// ============================================================================

func TestRegistryResolve(t *testing.T) {
	r := Default()
	assert.Equal(t, []string{"amazon", "hepsiburada", "trendyol"}, r.IDs())

	tests := []struct {
		name    string
		id      string
		url     string
		want    string
		wantErr bool
	}{
		{"auto_amazon", "", "https://www.amazon.in/dp/B0ABCDEF12", "amazon", false},
		{"auto_bare_host", "", "https://amazon.com/dp/B0ABCDEF12", "amazon", false},
		{"auto_trendyol", "", "https://www.trendyol.com/acme/mouse-p-123", "trendyol", false},
		{"auto_hepsiburada", "", "https://www.hepsiburada.com/acme-mouse-p-HBCV00000ABCDE", "hepsiburada", false},
		{"explicit_match", "amazon", "https://www.amazon.co.uk/dp/B0ABCDEF12", "amazon", false},
		{"explicit_mismatch", "trendyol", "https://www.amazon.in/dp/B0ABCDEF12", "", true},
		{"unknown_id", "ebay", "https://www.ebay.com/itm/1", "", true},
		{"unknown_host", "", "https://example.com/p/1", "", true},
		{"lookalike_host", "", "https://www.amazon.com.example.io/dp/B0ABCDEF12", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := r.Resolve(tt.id, tt.url)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrUnsupportedSite))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.ID)
		})
	}
}

func TestNewRegistrySkipsInvalid(t *testing.T) {
	r := NewRegistry(nil, &Profile{}, Amazon())
	assert.Equal(t, []string{"amazon"}, r.IDs())
	_, ok := r.Get("trendyol")
	assert.False(t, ok)
}

// ============================================================================
// Amazon 字段策略测试
// ============================================================================

const amazonProductHTML = `<html><head><title>Amazon.in: Acme Wireless Mouse X200</title>
<script type="application/ld+json">{"@context":"https://schema.org","@type":"Product","name":"Acme Wireless Mouse X200","sku":"B0ABCDEF12","aggregateRating":{"ratingValue":"4.2","reviewCount":"1,234"}}</script>
</head><body>
<span id="productTitle"> Acme Wireless Mouse X200 | 2.4GHz (Black) </span>
<a id="bylineInfo">Visit the Acme Store</a>
<div id="corePriceDisplay_desktop_feature_div">
  <span class="a-price" data-a-color="price"><span class="a-offscreen">₹1,299.00</span></span>
</div>
<div id="imgTagWrapperId"><img id="landingImage" src="data:image/gif;base64,R0lGOD" data-a-dynamic-image='{"https://m.media-amazon.com/images/I/small.jpg":[100,100],"https://m.media-amazon.com/images/I/large.jpg":[1500,1500]}'></div>
<div id="feature-bullets"><ul>
  <li><span class="a-list-item"> Silent clicks </span></li>
  <li><span class="a-list-item">2.4GHz receiver</span></li>
  <li><span class="a-list-item">silent clicks</span></li>
</ul></div>
</body></html>`

func TestAmazonSeedFields(t *testing.T) {
	ctx := context.Background()
	pageURL := "https://www.amazon.in/Acme-Wireless-Mouse/dp/B0ABCDEF12?ref=x"
	src := source.NewDocumentSource(map[string]string{pageURL: amazonProductHTML})
	page, err := src.Navigate(ctx, pageURL)
	require.NoError(t, err)
	defer page.Close()

	ex := extract.New(nil)
	fs := Amazon().Seed

	assert.Equal(t, "Acme Wireless Mouse X200", ex.Name(ctx, page, fs.Name))
	assert.Equal(t, "Acme", ex.String(ctx, page, fs.Brand))

	price := ex.Price(ctx, page, fs.Price)
	require.NotNil(t, price)
	assert.Equal(t, 1299.0, *price)

	rating := ex.Rating(ctx, page, fs.Rating)
	require.NotNil(t, rating, "rating falls back to structured metadata")
	assert.Equal(t, 4.2, *rating)

	count := ex.RatingCount(ctx, page, fs.RatingCount)
	require.NotNil(t, count)
	assert.Equal(t, 1234, *count)

	assert.Equal(t, "https://m.media-amazon.com/images/I/large.jpg", ex.Image(ctx, page, fs.Image))
	assert.Equal(t, []string{"Silent clicks", "2.4GHz receiver"}, ex.Features(ctx, page, fs.Features, 10))
	assert.Equal(t, "B0ABCDEF12", ex.Identifier(ctx, page, fs.Identifier))
}

const amazonListingHTML = `<html><body>
<div data-component-type="s-search-result" class="s-result-item" data-asin="B0SPONSOR1">
  <span aria-label="Sponsored">Sponsored</span>
  <h2><a href="/sspa/click?spc=1"><span>Acme Sponsored Mouse</span></a></h2>
</div>
<div data-component-type="s-search-result" class="s-result-item" data-asin="B0ORGANIC1">
  <h2><a href="/Acme-Mouse-Pro/dp/B0ORGANIC1/ref=sr_1_2?keywords=mouse"><span>Acme Wireless Mouse X200 Pro</span></a></h2>
  <img class="s-image" src="https://m.media-amazon.com/images/I/pro.jpg">
  <span class="a-price" data-a-color="price"><span class="a-offscreen">₹1,499.00</span></span>
  <i class="a-icon-star-small"><span class="a-icon-alt">4.5 out of 5 stars</span></i>
  <span aria-label="2,345 ratings">2,345</span>
</div>
</body></html>`

func TestAmazonListingFields(t *testing.T) {
	ctx := context.Background()
	searchURL := "https://www.amazon.in/s?k=mouse"
	src := source.NewDocumentSource(map[string]string{searchURL: amazonListingHTML})
	page, err := src.Navigate(ctx, searchURL)
	require.NoError(t, err)

	p := Amazon()
	ex := extract.New(nil)

	entries, err := page.All(ctx, p.Listing.Entries)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	_, sponsored := ex.Extract(ctx, entries[0], p.Listing.Sponsored, nil)
	assert.True(t, sponsored)
	_, sponsored = ex.Extract(ctx, entries[1], p.Listing.Sponsored, nil)
	assert.False(t, sponsored)

	entry := entries[1]
	fs := p.Listing.Fields
	assert.Equal(t, "Acme Wireless Mouse X200 Pro", ex.Name(ctx, entry, fs.Name))
	assert.Equal(t, "B0ORGANIC1", ex.Identifier(ctx, entry, fs.Identifier))

	link := ex.String(ctx, entry, fs.Link)
	assert.Equal(t, "https://www.amazon.in/dp/B0ORGANIC1", p.CanonicalURL(link, searchURL))

	require.NotNil(t, ex.Price(ctx, entry, fs.Price))
	assert.Equal(t, 1499.0, *ex.Price(ctx, entry, fs.Price))
	require.NotNil(t, ex.Rating(ctx, entry, fs.Rating))
	assert.Equal(t, 4.5, *ex.Rating(ctx, entry, fs.Rating))
	require.NotNil(t, ex.RatingCount(ctx, entry, fs.RatingCount))
	assert.Equal(t, 2345, *ex.RatingCount(ctx, entry, fs.RatingCount))
	assert.Equal(t, "https://m.media-amazon.com/images/I/pro.jpg", ex.Image(ctx, entry, fs.Image))
}

func TestProductURL(t *testing.T) {
	assert.Equal(t, "https://www.amazon.de/dp/B0ABCDEF12", Amazon().ProductURL("https://www.amazon.de/s?k=x", "B0ABCDEF12"))
	assert.Empty(t, Amazon().ProductURL("https://www.amazon.de/s?k=x", ""))
	assert.Empty(t, Trendyol().ProductURL("https://www.trendyol.com/sr?q=x", "123"))
}

// ============================================================================
// Hepsiburada 字段策略测试
// ============================================================================

const hepsiburadaProductHTML = `<html><head><title>Acme Kablosuz Mouse Fiyatı - Hepsiburada</title>
<meta itemprop="ratingValue" content="4.6">
</head><body>
<h1 data-test-id="product-name"> Acme Kablosuz Mouse </h1>
<div data-test-id="brand-name"><a href="/acme">Acme</a></div>
<div data-test-id="price-current-price">1.299,90 TL</div>
<div data-test-id="rating-and-review-count">1.234 değerlendirme</div>
<img data-test-id="product-image" src="https://productimages.hepsiburada.net/s/1/acme.jpg">
</body></html>`

func TestHepsiburadaSeedFields(t *testing.T) {
	ctx := context.Background()
	pageURL := "https://www.hepsiburada.com/acme-kablosuz-mouse-p-HBCV00000ABCDE?magaza=Acme"
	src := source.NewDocumentSource(map[string]string{pageURL: hepsiburadaProductHTML})
	page, err := src.Navigate(ctx, pageURL)
	require.NoError(t, err)
	defer page.Close()

	ex := extract.New(nil)
	fs := Hepsiburada().Seed

	assert.Equal(t, "Acme Kablosuz Mouse", ex.Name(ctx, page, fs.Name))
	assert.Equal(t, "Acme", ex.String(ctx, page, fs.Brand))

	price := ex.Price(ctx, page, fs.Price)
	require.NotNil(t, price)
	assert.InDelta(t, 1299.90, *price, 1e-9)

	rating := ex.Rating(ctx, page, fs.Rating)
	require.NotNil(t, rating)
	assert.Equal(t, 4.6, *rating)

	count := ex.RatingCount(ctx, page, fs.RatingCount)
	require.NotNil(t, count)
	assert.Equal(t, 1234, *count)

	assert.Equal(t, "https://productimages.hepsiburada.net/s/1/acme.jpg", ex.Image(ctx, page, fs.Image))
	assert.Equal(t, "HBCV00000ABCDE", ex.Identifier(ctx, page, fs.Identifier))
}

const hepsiburadaListingHTML = `<html><body>
<ul>
<li data-test-id="product-card">
  <div class="sponsored-label">Reklam</div>
  <a href="/acme-reklam-mouse-p-HBCV00000ADS01"><h3 data-test-id="product-card-name">Acme Reklam Mouse</h3></a>
</li>
<li data-test-id="product-card">
  <a href="/acme-mouse-pro-p-HBCV00000XYZ12?magaza=Acme"><h3 data-test-id="product-card-name">Acme Kablosuz Mouse Pro</h3></a>
  <img src="https://productimages.hepsiburada.net/s/1/pro.jpg">
  <div data-test-id="price-current-price">1.499,00 TL</div>
  <span class="rating-average">4,5</span>
  <span data-test-id="rating-and-review-count">(87)</span>
</li>
</ul>
</body></html>`

func TestHepsiburadaListingFields(t *testing.T) {
	ctx := context.Background()
	p := Hepsiburada()
	searchURL := p.SearchURL("https://www.hepsiburada.com/acme-kablosuz-mouse-p-HBCV00000ABCDE", "acme kablosuz mouse")
	assert.Equal(t, "https://www.hepsiburada.com/ara?q=acme%20kablosuz%20mouse", searchURL)

	src := source.NewDocumentSource(map[string]string{searchURL: hepsiburadaListingHTML})
	page, err := src.Navigate(ctx, searchURL)
	require.NoError(t, err)

	ex := extract.New(nil)
	entries, err := page.All(ctx, p.Listing.Entries)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	_, sponsored := ex.Extract(ctx, entries[0], p.Listing.Sponsored, nil)
	assert.True(t, sponsored)
	_, sponsored = ex.Extract(ctx, entries[1], p.Listing.Sponsored, nil)
	assert.False(t, sponsored)

	entry := entries[1]
	fs := p.Listing.Fields
	assert.Equal(t, "Acme Kablosuz Mouse Pro", ex.Name(ctx, entry, fs.Name))
	assert.Equal(t, "HBCV00000XYZ12", ex.Identifier(ctx, entry, fs.Identifier))
	assert.Equal(t, "https://www.hepsiburada.com/acme-mouse-pro-p-HBCV00000XYZ12",
		p.CanonicalURL(ex.String(ctx, entry, fs.Link), searchURL))

	require.NotNil(t, ex.Price(ctx, entry, fs.Price))
	assert.Equal(t, 1499.0, *ex.Price(ctx, entry, fs.Price))
	require.NotNil(t, ex.Rating(ctx, entry, fs.Rating))
	assert.Equal(t, 4.5, *ex.Rating(ctx, entry, fs.Rating))
	require.NotNil(t, ex.RatingCount(ctx, entry, fs.RatingCount))
	assert.Equal(t, 87, *ex.RatingCount(ctx, entry, fs.RatingCount))
	assert.Equal(t, "https://productimages.hepsiburada.net/s/1/pro.jpg", ex.Image(ctx, entry, fs.Image))
}
