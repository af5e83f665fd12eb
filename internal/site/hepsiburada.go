package site

import (
	"regexp"

	"altfinder/internal/extract"
	"altfinder/internal/source"
)

// Hepsiburada 返回 hepsiburada.com 的 Profile。商品编号形如 "-p-HBCV00000ABCDE"。
func Hepsiburada() *Profile {
	seed := FieldSet{
		Name: []extract.Strategy{
			extract.Text(`h1[data-test-id="product-name"]`),
			extract.Text("h1.product-name"),
			extract.Text("h1#product-name"),
			extract.Metadata(extract.MetaName),
			extract.Attr(`meta[property="og:title"]`, "content").Match(`^(.*?)(?:\s*[-–]\s*(?:Fiyatı|Yorumları).*)?$`),
			extract.Text("title"),
		},
		Brand: []extract.Strategy{
			extract.Text(`[data-test-id="brand-name"] a`),
			extract.Text(".brand-name a"),
			extract.Metadata(extract.MetaBrand),
		},
		Price: []extract.Strategy{
			extract.Text(`[data-test-id="price-current-price"]`),
			extract.Text("#offering-price"),
			extract.Text(".product-price-container .price"),
			extract.Text(".primary-price"),
			extract.Attr(`meta[itemprop="price"]`, "content"),
			extract.Metadata(extract.MetaPrice),
			extract.BodyRegex(`(?:₺|TL)\s*\d{1,3}(?:\.\d{3})*(?:,\d{2})?|\d{1,3}(?:\.\d{3})*(?:,\d{2})?\s?(?:TL|₺)`),
		},
		Rating: []extract.Strategy{
			extract.Attr(`meta[itemprop="ratingValue"]`, "content"),
			extract.Text(`[itemprop="ratingValue"]`),
			extract.Text(`[data-test-id="average-rating"]`),
			extract.Text(".rating-star .rating-star__point"),
			extract.Text(".rating-average"),
			extract.Metadata(extract.MetaRating),
			extract.BodyRegex(`(?i)([0-5](?:[.,]\d)?)\s*(?:/\s*5|puan)`),
		},
		RatingCount: []extract.Strategy{
			extract.Attr(`meta[itemprop="reviewCount"]`, "content"),
			extract.Text(`[itemprop="reviewCount"]`),
			extract.Text(`[data-test-id="rating-and-review-count"]`),
			extract.Text(`[data-test-id="review-count"]`),
			extract.Text(`[data-test-id="comments-count"]`),
			extract.Text(".rating-star__count"),
			extract.Text(".rating-count"),
			extract.Metadata(extract.MetaRatingCount),
		},
		Image: []extract.Strategy{
			extract.Attr(`img[data-test-id="product-image"]`, "src", "data-src", "srcset"),
			extract.Attr(".product-image img", "src", "data-src", "srcset"),
			extract.Attr(".image-gallery img", "src", "data-src", "srcset"),
			extract.Attr("picture source[srcset]", "srcset"),
			extract.Attr(`meta[property="og:image:secure_url"]`, "content"),
			extract.Attr(`meta[property="og:image"]`, "content"),
			extract.Metadata(extract.MetaImage),
		},
		Features: []extract.Strategy{
			extract.Text(`[data-test-id="product-features"] li`),
			extract.Text(".product-features li"),
		},
		Identifier: []extract.Strategy{
			extract.URLRegex(`-p-([A-Za-z0-9]+)`),
			extract.Metadata(extract.MetaIdentifier),
		},
	}

	listing := ListingSpec{
		Entries: `[data-test-id="product-card"], li[class*="productListContent"], .productListContent .productListContent-item`,
		Sponsored: []extract.Strategy{
			extract.Exists(`[data-test-id="sponsored-badge"]`),
			extract.Exists(`[class*="sponsored"]`),
		},
		Fields: FieldSet{
			Name: []extract.Strategy{
				extract.Text(`[data-test-id="product-card-name"]`),
				extract.Text(".product-title"),
				extract.Text("h3"),
			},
			Price: []extract.Strategy{
				extract.Text(`[data-test-id="price-current-price"]`),
				extract.Text(".primary-price"),
				extract.Text(".price"),
			},
			Rating: []extract.Strategy{
				extract.Text(`[itemprop="ratingValue"]`),
				extract.Text(".rating-average"),
			},
			RatingCount: []extract.Strategy{
				extract.Text(`[itemprop="reviewCount"]`),
				extract.Text(`[data-test-id="rating-and-review-count"]`),
				extract.Text(".rating-star__count"),
				extract.Text(".rating-count"),
			},
			Image: []extract.Strategy{
				extract.Attr("img", "src", "data-src", "srcset"),
			},
			Identifier: []extract.Strategy{
				extract.Attr(`a[href*="-p-"]`, "href").Match(`-p-([A-Za-z0-9]+)`),
			},
			Link: []extract.Strategy{
				extract.Attr(`a[href*="-p-"]`, "href"),
			},
		},
	}

	return &Profile{
		ID:           "hepsiburada",
		DefaultHost:  "www.hepsiburada.com",
		Hosts:        regexp.MustCompile(`(^|\.)hepsiburada\.com$`),
		Seed:         seed,
		Listing:      listing,
		SearchPath:   "/ara",
		SearchParam:  "q",
		IdentifierRe: regexp.MustCompile(`-p-([A-Za-z0-9]+)`),
		Source: source.Profile{
			AcceptLanguage: "tr-TR,tr;q=0.9,en;q=0.8",
			UserAgents:     source.DefaultUserAgents,
			BlockedURLs:    source.DefaultBlockedURLs,
		},
	}
}
