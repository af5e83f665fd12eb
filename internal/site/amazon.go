package site

import (
	"regexp"

	"altfinder/internal/extract"
	"altfinder/internal/source"
)

var amazonImageAttrs = []string{"data-old-hires", "src", "data-src", "srcset", "data-a-dynamic-image"}

// Amazon 返回 Amazon 各站点（.in/.com/.co.uk/.de/.fr/.it/.es）的 Profile。
func Amazon() *Profile {
	rating := []extract.Strategy{
		extract.Text("#acrPopover .a-icon-alt"),
		extract.Attr("#acrPopover", "title"),
		extract.Text(`span[data-hook="rating-out-of-text"]`),
		extract.Text(`i[data-hook="average-star-rating"] span`),
		extract.Metadata(extract.MetaRating),
	}
	ratingCount := []extract.Strategy{
		extract.Text("#acrCustomerReviewText"),
		extract.Text(`span[data-hook="total-review-count"]`),
		extract.Metadata(extract.MetaRatingCount),
	}
	identifier := []extract.Strategy{
		extract.URLRegex(`(?i)(?:dp|gp/product|gp/aw/d)/([A-Z0-9]{10})`),
		extract.Attr("input#ASIN", "value"),
		extract.Metadata(extract.MetaIdentifier),
	}

	seed := FieldSet{
		Name: []extract.Strategy{
			extract.Text("#productTitle"),
			extract.Text("h1#title span"),
			extract.Text("#titleSection #title"),
			extract.Metadata(extract.MetaName),
			extract.Attr(`meta[property="og:title"]`, "content"),
			extract.Text("title"),
		},
		Brand: []extract.Strategy{
			extract.Text("#bylineInfo").Match(`(?i)(?:visit the\s+(.+?)\s+store|brand:\s*(.+))`),
			extract.Text("#productOverview_feature_div tr.po-brand td.a-span9 span"),
			extract.Metadata(extract.MetaBrand),
		},
		Price: []extract.Strategy{
			extract.Text(`#corePriceDisplay_desktop_feature_div .a-price[data-a-color="price"] .a-offscreen`),
			extract.Text(`#apex_desktop .a-price[data-a-color="price"] .a-offscreen`),
			extract.Text(`#corePrice_feature_div .a-price[data-a-color="price"] .a-offscreen`),
			extract.Text("#corePriceDisplay_desktop_feature_div .a-price .a-offscreen"),
			extract.Text("#apex_desktop .a-price .a-offscreen"),
			extract.Text("#corePrice_feature_div .a-price .a-offscreen"),
			extract.Attr(`meta[name="twitter:data1"]`, "content"),
			extract.Metadata(extract.MetaPrice),
		},
		Rating:      rating,
		RatingCount: ratingCount,
		Image: []extract.Strategy{
			extract.Attr("#landingImage", amazonImageAttrs...),
			extract.Attr("#imgTagWrapperId img", amazonImageAttrs...),
			extract.Attr(".imageThumb img", amazonImageAttrs...),
			extract.Attr("#imageBlock img", amazonImageAttrs...),
			extract.Metadata(extract.MetaImage),
			extract.Attr(`meta[property="og:image"]`, "content"),
		},
		Features: []extract.Strategy{
			extract.Text("#feature-bullets ul li span.a-list-item"),
			extract.Text("#feature-bullets li"),
		},
		Identifier: identifier,
	}

	alternate := FieldSet{
		Name: []extract.Strategy{
			extract.Text("#title"),
			extract.Text("#productTitle"),
			extract.Text("title"),
		},
		Price: []extract.Strategy{
			extract.Text(`#corePrice_feature_div .a-price[data-a-color="price"] .a-offscreen`),
			extract.Text("#corePrice_feature_div .a-price .a-offscreen"),
			extract.Text("#priceblock_dealprice"),
			extract.Text("#priceblock_ourprice"),
			extract.Text("span.a-color-price"),
			extract.BodyRegex(`(?:₹|\$|€|£)\s?\d[\d,]*(?:\.\d{2})?`),
		},
		Rating:      rating,
		RatingCount: ratingCount,
		Image: []extract.Strategy{
			extract.Attr("#main-image-container img", "src", "data-src", "srcset"),
			extract.Attr("img#ivLargeImage", "src", "data-src", "srcset"),
		},
	}

	listingImage := []string{"src", "data-src", "srcset"}
	listing := ListingSpec{
		Entries: `[data-component-type="s-search-result"].s-result-item, .s-result-item[data-asin]`,
		Sponsored: []extract.Strategy{
			extract.Exists(`[aria-label="Sponsored"]`),
			extract.Exists(`[data-component-type="sp-sponsored-result"]`),
			extract.Exists(".puis-sponsored-label-text"),
			extract.Attr("", "data-component-type").Match(`^(sp-sponsored.*)$`),
		},
		Fields: FieldSet{
			Name: []extract.Strategy{
				extract.Text("h2 a span"),
				extract.Text("h5 a span"),
				extract.Text("h2 span"),
				extract.Attr("h2", "aria-label"),
			},
			Price: []extract.Strategy{
				extract.Text(`.a-price[data-a-color="price"] .a-offscreen`),
				extract.Text(".a-price .a-offscreen"),
				extract.Text(".a-color-price"),
			},
			Rating: []extract.Strategy{
				extract.Text("i.a-icon-star-small span.a-icon-alt"),
				extract.Text("i.a-icon-star span.a-icon-alt"),
				extract.Attr(`[aria-label*="out of 5 stars"]`, "aria-label"),
			},
			RatingCount: []extract.Strategy{
				extract.Attr(`[aria-label$="ratings"]`, "aria-label"),
				extract.Text(`[aria-label$="ratings"]`),
				extract.Text(".s-link-style .s-underline-text"),
				extract.Attr(`[aria-label$="rating"]`, "aria-label"),
			},
			Image: []extract.Strategy{
				extract.Attr("img.s-image", listingImage...),
				extract.Attr("img", listingImage...),
			},
			Identifier: []extract.Strategy{
				extract.Attr("", "data-asin"),
			},
			Link: []extract.Strategy{
				extract.Attr("h2 a", "href"),
				extract.Attr("h5 a", "href"),
				extract.Attr("a.a-link-normal.s-no-outline", "href"),
			},
		},
	}

	return &Profile{
		ID:            "amazon",
		DefaultHost:   "www.amazon.in",
		Hosts:         regexp.MustCompile(`(^|\.)amazon\.(in|com|co\.uk|de|fr|it|es)$`),
		Seed:          seed,
		Alternate:     alternate,
		Listing:       listing,
		SearchPath:    "/s",
		SearchParam:   "k",
		AlternatePath: "/gp/aw/d/%s",
		ProductPath:   "/dp/%s",
		IdentifierRe:  regexp.MustCompile(`(?i)(?:dp|gp/product|gp/aw/d)/([A-Z0-9]{10})`),
		Source: source.Profile{
			AcceptLanguage: "en-IN,en;q=0.9",
			UserAgents:     source.DefaultUserAgents,
			BlockedURLs:    source.DefaultBlockedURLs,
		},
	}
}
