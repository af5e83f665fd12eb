package site

import (
	"regexp"

	"altfinder/internal/extract"
	"altfinder/internal/source"
)

// Trendyol 返回 trendyol.com 的 Profile。该站点没有精简版详情页。
func Trendyol() *Profile {
	seed := FieldSet{
		Name: []extract.Strategy{
			extract.Text(`h1[data-testid="product-name"]`),
			extract.Text("h1.pr-new-br span"),
			extract.Text("h1.pr-new-br"),
			extract.Metadata(extract.MetaName),
			extract.Attr(`meta[property="og:title"]`, "content"),
			extract.Text("title"),
		},
		Brand: []extract.Strategy{
			extract.Text("h1.pr-new-br a"),
			extract.Metadata(extract.MetaBrand),
		},
		Price: []extract.Strategy{
			extract.Text(`[data-testid="price-current-price"]`),
			extract.Text(".pr-bx-w .prc-dsc"),
			extract.Text(".product-price-container .prc-org"),
			extract.Text(".prc-dscntd"),
			extract.Text(".prc-sllng"),
			extract.Text(".prc-orgnl"),
			extract.Attr(`meta[itemprop="price"]`, "content"),
			extract.Metadata(extract.MetaPrice),
			extract.BodyRegex(`\d{1,3}(?:\.\d{3})*(?:,\d{2})?\s?(?:TL|₺)`),
		},
		Rating: []extract.Strategy{
			extract.Text(`[data-testid="rating-score"]`),
			extract.Text(".rating-score"),
			extract.Attr(`meta[itemprop="ratingValue"]`, "content"),
			extract.Text(`[itemprop="ratingValue"]`),
			extract.Metadata(extract.MetaRating),
			extract.BodyRegex(`(?i)([0-5](?:[.,]\d)?)\s*(?:/\s*5|puan)`),
		},
		RatingCount: []extract.Strategy{
			extract.Text(`[data-testid="review-count"]`),
			extract.Text(".rating-count"),
			extract.Text(".rvw-cnt"),
			extract.Attr(`meta[itemprop="reviewCount"]`, "content"),
			extract.Metadata(extract.MetaRatingCount),
		},
		Image: []extract.Strategy{
			extract.Attr(`img[data-testid="product-detail-main-image"]`, "src", "data-src", "srcset"),
			extract.Attr(".base-product-image img", "src", "data-src", "srcset"),
			extract.Attr(".detail-section img", "src", "data-src", "srcset"),
			extract.Metadata(extract.MetaImage),
			extract.Attr(`meta[property="og:image"]`, "content"),
		},
		Features: []extract.Strategy{
			extract.Text(".detail-attr-item"),
			extract.Text(".detail-desc-list li"),
		},
		Identifier: []extract.Strategy{
			extract.URLRegex(`-p-(\d+)`),
			extract.Metadata(extract.MetaIdentifier),
		},
	}

	listing := ListingSpec{
		Entries: `[data-testid="product-card"], .prdct-cntnr-wrppr .p-card-wrppr`,
		Sponsored: []extract.Strategy{
			extract.Exists(`[data-testid="advert-badge"]`),
			extract.Exists(".product-advert"),
		},
		Fields: FieldSet{
			Name: []extract.Strategy{
				extract.Text(`[data-testid="product-card-name"]`),
				extract.Text(".prdct-desc-cntnr-ttl"),
			},
			Brand: []extract.Strategy{
				extract.Text(".prdct-desc-cntnr-ttl"),
			},
			Price: []extract.Strategy{
				extract.Text(`[data-testid="price-current-price"]`),
				extract.Text(".prc-box-dscntd"),
				extract.Text(".prc-box-sllng"),
				extract.Text(".prc-box-orgnl"),
				extract.Text(".prc-box"),
			},
			Rating: []extract.Strategy{
				extract.Text(`[data-testid="rating-score"]`),
				extract.Text(".rating-score"),
			},
			RatingCount: []extract.Strategy{
				extract.Text(`[data-testid="rating-count"]`),
				extract.Text(".rating-count"),
				extract.Text(".rvw-cnt"),
			},
			Image: []extract.Strategy{
				extract.Attr("img", "src", "data-src", "srcset"),
			},
			Identifier: []extract.Strategy{
				extract.Attr("", "href").Match(`-p-(\d+)`),
				extract.Attr("a", "href").Match(`-p-(\d+)`),
			},
			Link: []extract.Strategy{
				extract.Attr("", "href"),
				extract.Attr("a", "href"),
			},
		},
	}

	return &Profile{
		ID:           "trendyol",
		DefaultHost:  "www.trendyol.com",
		Hosts:        regexp.MustCompile(`(^|\.)trendyol\.com$`),
		Seed:         seed,
		Listing:      listing,
		SearchPath:   "/sr",
		SearchParam:  "q",
		IdentifierRe: regexp.MustCompile(`-p-(\d+)`),
		Source: source.Profile{
			AcceptLanguage: "tr-TR,tr;q=0.9,en;q=0.8",
			UserAgents:     source.DefaultUserAgents,
			BlockedURLs:    source.DefaultBlockedURLs,
		},
	}
}
