package recs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"altfinder/internal/model"
	"altfinder/internal/pkg/logger"
	"altfinder/internal/site"
	"altfinder/internal/source"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// 测试夹具：一个种子商品、两个搜索结果页与若干详情页
// ============================================================================

const (
	seedURL    = "https://www.amazon.in/Acme-Wireless-Mouse/dp/B0SEED0001?ref=abc"
	seedCanon  = "https://www.amazon.in/dp/B0SEED0001"
	altSeedURL = "https://www.amazon.in/gp/aw/d/B0SEED0001"
	search1URL = "https://www.amazon.in/s?k=acme%20wireless%20mouse%20x200%20silent"
	search2URL = "https://www.amazon.in/s?k=acme%20wireless%20mouse%20x200%20silent%20ergonomic"
)

const seedHTML = `<html><body>
<span id="productTitle">Acme Wireless Mouse X200 Silent Ergonomic Grip</span>
<a id="bylineInfo">Visit the Acme Store</a>
<div id="corePriceDisplay_desktop_feature_div">
  <span class="a-price" data-a-color="price"><span class="a-offscreen">₹1,000.00</span></span>
</div>
<div id="acrPopover"><span class="a-icon-alt">4.0 out of 5 stars</span></div>
<span id="acrCustomerReviewText">500 ratings</span>
<img id="landingImage" src="https://m.media-amazon.com/images/I/seed.jpg">
</body></html>`

func listingEntry(asin, name, price, rating, count, image string) string {
	html := fmt.Sprintf(`<div data-component-type="s-search-result" class="s-result-item" data-asin="%s">
  <h2><a href="/%s-item/dp/%s/ref=sr_1_1?keywords=x"><span>%s</span></a></h2>`, asin, asin, asin, name)
	if image != "" {
		html += fmt.Sprintf(`<img class="s-image" src="%s">`, image)
	}
	if price != "" {
		html += fmt.Sprintf(`<span class="a-price" data-a-color="price"><span class="a-offscreen">%s</span></span>`, price)
	}
	if rating != "" {
		html += fmt.Sprintf(`<i class="a-icon-star-small"><span class="a-icon-alt">%s out of 5 stars</span></i>`, rating)
	}
	if count != "" {
		html += fmt.Sprintf(`<span aria-label="%s ratings">%s</span>`, count, count)
	}
	return html + "</div>\n"
}

var search1HTML = `<html><body>
<div data-component-type="s-search-result" class="s-result-item" data-asin="B0SPONSOR1">
  <span aria-label="Sponsored">Sponsored</span>
  <h2><a href="/sspa/click?spc=1"><span>Acme Sponsored Mouse</span></a></h2>
</div>
` + listingEntry("B0ALT00001", "Acme Wireless Mouse X200 Pro", "₹1,100.00", "4.5", "2,000", "https://img/1.jpg") +
	listingEntry("B0SEED0001", "Acme Wireless Mouse X200 Silent Ergonomic Grip", "₹1,000.00", "4.0", "500", "https://img/seed.jpg") +
	listingEntry("B0ALT00002", "Acme Silent Mouse", "₹400.00", "", "", "https://img/2.jpg") +
	`</body></html>`

var search2HTML = `<html><body>
` + listingEntry("B0ALT00001", "Acme Wireless Mouse X200 Pro", "₹1,100.00", "4.5", "2,000", "https://img/1.jpg") +
	listingEntry("B0ALT00003", "Zeta Ergonomic Wireless Mouse", "₹2,500.00", "3.9", "80", "https://img/3.jpg") +
	listingEntry("B0ALT00004", "Acme Mouse Grip", "₹900.00", "4.1", "10", "") +
	`</body></html>`

const alt2DetailHTML = `<html><body>
<span id="productTitle">A Completely Different Title</span>
<div id="acrPopover"><span class="a-icon-alt">4.8 out of 5 stars</span></div>
<span id="acrCustomerReviewText">50 ratings</span>
<img id="landingImage" src="https://m.media-amazon.com/images/I/alt2-large.jpg">
</body></html>`

func fixturePages() map[string]string {
	return map[string]string{
		seedURL:    seedHTML,
		search1URL: search1HTML,
		search2URL: search2HTML,
		"https://www.amazon.in/dp/B0ALT00002": alt2DetailHTML,
	}
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.QueryDelayMin = 0
	opts.QueryDelayMax = 0
	opts.EnrichTimeout = 5 * time.Second
	return opts
}

func newTestPipeline(t *testing.T, src source.Source, opts Options) *Pipeline {
	t.Helper()
	p, err := NewPipeline(site.Amazon(), src, opts, logger.Discard())
	require.NoError(t, err)
	return p
}

// ============================================================================
// 完整流程测试
// ============================================================================

func TestGetRecommendations_EndToEnd(t *testing.T) {
	src := source.NewDocumentSource(fixturePages())
	p := newTestPipeline(t, src, testOptions())

	var sleeps int
	p.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		return nil
	}

	res, err := p.GetRecommendations(context.Background(), seedURL, 0)
	require.NoError(t, err)

	assert.Equal(t, "amazon", res.Site)
	assert.Equal(t, seedURL, res.InputURL)
	assert.Equal(t, "Acme Wireless Mouse X200 Silent Ergonomic Grip", res.Seed.Name)
	assert.Equal(t, "Acme", res.Seed.Brand)
	assert.Equal(t, "B0SEED0001", res.Seed.Identifier)
	assert.Equal(t, seedCanon, res.Seed.URL)
	require.NotNil(t, res.Seed.Price)
	assert.Equal(t, 1000.0, *res.Seed.Price)

	assert.Equal(t, 1, sleeps, "one delay between two queries")
	assert.Equal(t, 1, src.Visits(search1URL))
	assert.Equal(t, 1, src.Visits(search2URL))
	assert.Equal(t, 0, src.Visits(altSeedURL), "complete seed skips the alternate page")

	assert.Equal(t, []string{"B0ALT00001", "B0ALT00004", "B0ALT00002", "B0ALT00003"}, productIDs(res.Flat))
	for _, item := range res.Flat {
		assert.NotEqual(t, "B0SEED0001", item.Identifier, "seed never recommended")
		assert.NotEqual(t, "B0SPONSOR1", item.Identifier, "sponsored entries skipped")
	}

	alt2 := res.Flat[2]
	assert.Equal(t, "Acme Silent Mouse", alt2.Name, "enrichment never overwrites known fields")
	assert.Equal(t, "https://img/2.jpg", alt2.Image)
	require.NotNil(t, alt2.Rating)
	assert.Equal(t, 4.8, *alt2.Rating)
	require.NotNil(t, alt2.RatingCount)
	assert.Equal(t, 50, *alt2.RatingCount)

	alt4 := res.Flat[1]
	assert.Empty(t, alt4.Image, "failed enrichment keeps the listing data")
	require.NotNil(t, alt4.Price)
	assert.Equal(t, 900.0, *alt4.Price)

	assert.Equal(t, 0, src.Visits("https://www.amazon.in/dp/B0ALT00001"), "complete candidates are not revisited")
	assert.Equal(t, 1, src.Visits("https://www.amazon.in/dp/B0ALT00002"))
	assert.Equal(t, 1, src.Visits("https://www.amazon.in/dp/B0ALT00004"))

	assert.Equal(t, []string{"B0ALT00002", "B0ALT00001", "B0ALT00004", "B0ALT00003"}, productIDs(res.Groups.TopRated))
	assert.Equal(t, []string{"B0ALT00004", "B0ALT00002"}, productIDs(res.Groups.Budget))
	assert.Equal(t, []string{"B0ALT00001"}, productIDs(res.Groups.MidRange))
	assert.Equal(t, []string{"B0ALT00003"}, productIDs(res.Groups.Premium))
	assert.Len(t, res.Groups.FeatureMatch, 4)
}

func TestGetRecommendations_MinScore(t *testing.T) {
	opts := testOptions()
	opts.MinScore = 0.6
	p := newTestPipeline(t, source.NewDocumentSource(fixturePages()), opts)

	res, err := p.GetRecommendations(context.Background(), seedURL, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"B0ALT00001", "B0ALT00004"}, productIDs(res.Flat))
}

func TestGetRecommendations_CollectionFailureIsNotFatal(t *testing.T) {
	pages := fixturePages()
	delete(pages, search1URL)
	src := source.NewDocumentSource(pages)
	p := newTestPipeline(t, src, testOptions())

	res, err := p.GetRecommendations(context.Background(), seedURL, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"B0ALT00001", "B0ALT00004", "B0ALT00003"}, productIDs(res.Flat))
}

func TestGetRecommendations_EmptyResult(t *testing.T) {
	src := source.NewDocumentSource(map[string]string{seedURL: seedHTML})
	p := newTestPipeline(t, src, testOptions())

	res, err := p.GetRecommendations(context.Background(), seedURL, 0)
	require.NoError(t, err)
	assert.NotNil(t, res.Flat)
	assert.Empty(t, res.Flat)
	assert.NotNil(t, res.Groups.TopRated)
	assert.NotNil(t, res.Groups.Premium)
}

func TestGetRecommendations_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestPipeline(t, source.NewDocumentSource(fixturePages()), testOptions())
	_, err := p.GetRecommendations(ctx, seedURL, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

// ============================================================================
// 种子读取测试
// ============================================================================

func TestReadSeed(t *testing.T) {
	namelessSeed := `<html><body><div id="acrPopover"><span class="a-icon-alt">4.0 out of 5 stars</span></div></body></html>`
	altPage := `<html><body><div id="title">Acme Mouse Mobile Title</div><span class="a-color-price">₹1,234.00</span></body></html>`
	bodyPricePage := `<html><body><div id="title">Acme Mouse</div><p>Deal of the day at ₹ 799 only</p></body></html>`

	tests := []struct {
		name      string
		pages     map[string]string
		disable   bool
		wantName  string
		wantPrice float64
		wantErr   error
	}{
		{
			name:      "detail_page_complete",
			pages:     map[string]string{seedURL: seedHTML, altSeedURL: altPage},
			wantName:  "Acme Wireless Mouse X200 Silent Ergonomic Grip",
			wantPrice: 1000,
		},
		{
			name:      "alternate_fills_name_and_price",
			pages:     map[string]string{seedURL: namelessSeed, altSeedURL: altPage},
			wantName:  "Acme Mouse Mobile Title",
			wantPrice: 1234,
		},
		{
			name:      "detail_unreachable_alternate_ok",
			pages:     map[string]string{altSeedURL: bodyPricePage},
			wantName:  "Acme Mouse",
			wantPrice: 799,
		},
		{
			name:    "both_unreachable",
			pages:   map[string]string{},
			wantErr: source.ErrNotFound,
		},
		{
			name:    "no_name_alternate_disabled",
			pages:   map[string]string{seedURL: namelessSeed, altSeedURL: altPage},
			disable: true,
			wantErr: ErrSeedNameMissing,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			opts.DisableAlternate = tt.disable
			p := newTestPipeline(t, source.NewDocumentSource(tt.pages), opts)

			seed, err := p.ReadSeed(context.Background(), seedURL)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, IsSeedError(err), "expected *SeedError, got %T", err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, seed.Name)
			require.NotNil(t, seed.Price)
			assert.Equal(t, tt.wantPrice, *seed.Price)
			assert.Equal(t, "B0SEED0001", seed.Identifier)
			assert.Equal(t, seedCanon, seed.URL)
			assert.NotNil(t, seed.Features)
		})
	}
}

// ============================================================================
// 候选收集测试
// ============================================================================

func TestCollect_ListingCapCountsSponsored(t *testing.T) {
	p := newTestPipeline(t, source.NewDocumentSource(fixturePages()), testOptions())

	got, err := p.Collect(context.Background(), seedURL, "acme wireless mouse x200 silent", 2)
	require.NoError(t, err)
	require.Len(t, got, 1, "sponsored entry consumes one of the two slots")
	assert.Equal(t, "B0ALT00001", got[0].Identifier)
	assert.Equal(t, "https://www.amazon.in/dp/B0ALT00001", got[0].URL)
	assert.NotNil(t, got[0].Features)

	_, err = p.Collect(context.Background(), seedURL, "missing page", 10)
	assert.Error(t, err)
}

// ============================================================================
// 回访补全测试
// ============================================================================

// countingSource 记录同时打开的页面数。
type countingSource struct {
	inner    source.Source
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *countingSource) Navigate(ctx context.Context, rawURL string) (source.Page, error) {
	n := s.inFlight.Add(1)
	for {
		cur := s.peak.Load()
		if n <= cur || s.peak.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(s.delay)
	page, err := s.inner.Navigate(ctx, rawURL)
	if err != nil {
		s.inFlight.Add(-1)
		return nil, err
	}
	return &countedPage{Page: page, done: func() { s.inFlight.Add(-1) }}, nil
}

type countedPage struct {
	source.Page
	once sync.Once
	done func()
}

func (p *countedPage) Close() error {
	p.once.Do(p.done)
	return p.Page.Close()
}

func TestEnrich_ConcurrencyLimit(t *testing.T) {
	pages := map[string]string{}
	var candidates []model.Product
	for i := 0; i < 8; i++ {
		u := fmt.Sprintf("https://www.amazon.in/dp/B0ENRICH0%d", i)
		pages[u] = alt2DetailHTML
		candidates = append(candidates, model.Product{Name: fmt.Sprintf("item %d", i), URL: u, Price: model.Float(100)})
	}
	src := &countingSource{inner: source.NewDocumentSource(pages), delay: 20 * time.Millisecond}

	opts := testOptions()
	opts.EnrichConcurrency = 2
	p := newTestPipeline(t, src, opts)

	got := p.Enrich(context.Background(), candidates, 6)
	require.Len(t, got, 8)
	assert.LessOrEqual(t, src.peak.Load(), int32(2))
	assert.Equal(t, int32(0), src.inFlight.Load(), "every page closed")

	for i, c := range got {
		assert.Equal(t, candidates[i].Name, c.Name)
		if i < 6 {
			require.NotNil(t, c.Rating, "candidate %d enriched", i)
			assert.Equal(t, 4.8, *c.Rating)
		} else {
			assert.Nil(t, c.Rating, "candidate %d outside top-K", i)
		}
	}
	assert.Nil(t, candidates[0].Rating, "input slice untouched")
}

func TestEnrich_SkipsCompleteAndURLless(t *testing.T) {
	src := source.NewDocumentSource(nil)
	p := newTestPipeline(t, src, testOptions())

	complete := model.Product{
		Name: "done", URL: "https://www.amazon.in/dp/B0COMPLETE",
		Price: model.Float(1), Rating: model.Float(4), RatingCount: model.Int(3), Image: "https://img/x.jpg",
	}
	noURL := model.Product{Name: "no url"}

	got := p.Enrich(context.Background(), []model.Product{complete, noURL}, 15)
	assert.Equal(t, []model.Product{complete, noURL}, got)
	assert.Equal(t, 0, src.Visits(complete.URL))
}

// ============================================================================
// Recommender 测试
// ============================================================================

type profiledDocumentSource struct {
	*source.DocumentSource
	applied []source.Profile
}

func (s *profiledDocumentSource) WithProfile(p source.Profile) source.Source {
	s.applied = append(s.applied, p)
	return s.DocumentSource
}

func TestRecommender(t *testing.T) {
	src := &profiledDocumentSource{DocumentSource: source.NewDocumentSource(fixturePages())}
	r := NewRecommender(site.Default(), src, testOptions(), logger.Discard())

	res, err := r.Recommend(context.Background(), "", seedURL, 3)
	require.NoError(t, err)
	assert.Equal(t, "amazon", res.Site)
	assert.Len(t, res.Flat, 4, "limit below the minimum is raised to 5")
	require.Len(t, src.applied, 1)
	assert.Equal(t, site.Amazon().Source.AcceptLanguage, src.applied[0].AcceptLanguage)

	_, err = r.Recommend(context.Background(), "", "https://shop.example.com/item/1", 3)
	assert.ErrorIs(t, err, ErrUnsupportedSite)

	_, err = r.Recommend(context.Background(), "ebay", seedURL, 3)
	assert.ErrorIs(t, err, ErrUnsupportedSite)
}

func TestRecommender_ReadSeed(t *testing.T) {
	src := &profiledDocumentSource{DocumentSource: source.NewDocumentSource(fixturePages())}
	r := NewRecommender(site.Default(), src, testOptions(), logger.Discard())

	seed, siteID, err := r.ReadSeed(context.Background(), "", seedURL)
	require.NoError(t, err)
	assert.Equal(t, "amazon", siteID)
	assert.Equal(t, "Acme Wireless Mouse X200 Silent Ergonomic Grip", seed.Name)
	assert.Equal(t, 0, src.Visits(search1URL), "seed reading does not search")

	_, _, err = r.ReadSeed(context.Background(), "trendyol", seedURL)
	assert.ErrorIs(t, err, ErrUnsupportedSite)
}

func TestNewPipeline_Validation(t *testing.T) {
	src := source.NewDocumentSource(nil)

	_, err := NewPipeline(nil, src, DefaultOptions(), nil)
	assert.Error(t, err)
	_, err = NewPipeline(site.Amazon(), nil, DefaultOptions(), nil)
	assert.Error(t, err)

	bad := DefaultOptions()
	bad.Weights = Weights{Text: 1, Rating: 1}
	_, err = NewPipeline(site.Amazon(), src, bad, nil)
	assert.Error(t, err)

	bad = DefaultOptions()
	bad.BucketPolicy = "median"
	_, err = NewPipeline(site.Amazon(), src, bad, nil)
	assert.Error(t, err)
}
