package recs

import (
	"math"
	"testing"

	"altfinder/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// 文本相似度测试
// ============================================================================

func TestTextSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     model.Product
		expected float64
	}{
		{"identical", model.Product{Name: "Acme Wireless Mouse"}, model.Product{Name: "acme wireless mouse"}, 1},
		{"half_overlap", model.Product{Name: "Acme Wireless Mouse"}, model.Product{Name: "Acme Wired Mouse"}, 0.5},
		{"disjoint", model.Product{Name: "Acme Mouse"}, model.Product{Name: "Zeta Keyboard"}, 0},
		{"empty_side", model.Product{Name: ""}, model.Product{Name: "Acme Mouse"}, 0},
		{"both_empty", model.Product{}, model.Product{}, 0},
		{"features_count", model.Product{Name: "Acme Mouse", Features: []string{"silent clicks"}}, model.Product{Name: "Silent Mouse"}, 2.0 / 4.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TextSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("TextSimilarity() = %v, expected %v", got, tt.expected)
			}
		})
	}
}

// ============================================================================
// 综合评分测试
// ============================================================================

func TestScore_Components(t *testing.T) {
	s := Scorer{Weights: WeightPresets["canonical"]}
	seed := model.Product{Name: "Acme Wireless Mouse", Price: model.Float(1000)}

	perfect := model.Product{Name: "Acme Wireless Mouse", Price: model.Float(1000), Rating: model.Float(5)}
	assert.InDelta(t, 1.0, s.Score(seed, perfect), 1e-9)

	textOnly := model.Product{Name: "Acme Wireless Mouse"}
	assert.InDelta(t, 0.55, s.Score(seed, textOnly), 1e-9, "unknown rating and price contribute nothing")

	farPrice := model.Product{Name: "Zeta", Price: model.Float(3000)}
	assert.InDelta(t, 0, s.Score(seed, farPrice), 1e-9, "price proximity never goes negative")

	noSeedPrice := model.Product{Name: "Acme Wireless Mouse"}
	assert.InDelta(t, 0, PriceProximity(noSeedPrice, perfect), 1e-9)
}

func TestScore_AlwaysInUnitInterval(t *testing.T) {
	s := Scorer{Weights: Weights{Text: 0.4, Rating: 0.4, Price: 0.2}}
	seeds := []model.Product{
		{Name: "Acme Mouse", Price: model.Float(100)},
		{Name: "", Price: model.Float(0)},
		{Name: "Acme Mouse"},
	}
	candidates := []model.Product{
		{Name: "Acme Mouse", Rating: model.Float(9), Price: model.Float(100)},
		{Name: "Acme Mouse", Rating: model.Float(-1), Price: model.Float(-50)},
		{Name: "Other", Price: model.Float(1e9)},
		{},
	}
	for _, seed := range seeds {
		for _, c := range candidates {
			got := s.Score(seed, c)
			if got < 0 || got > 1 {
				t.Errorf("Score(%+v, %+v) = %v, outside [0,1]", seed, c, got)
			}
		}
	}
}

// ============================================================================
// 排序测试
// ============================================================================

func TestRank_TieBreaks(t *testing.T) {
	s := Scorer{Weights: WeightPresets["canonical"]}
	seed := model.Product{Name: "Acme Mouse"}

	candidates := []model.Product{
		{Name: "Acme Mouse", Identifier: "B", URL: "https://x/b"},
		{Name: "Acme Mouse", Identifier: "A", URL: "https://x/a2", RatingCount: model.Int(3)},
		{Name: "Acme Mouse", Identifier: "C", URL: "https://x/c", RatingCount: model.Int(10)},
		{Name: "Acme Mouse", Identifier: "A", URL: "https://x/a1", RatingCount: model.Int(3)},
		{Name: "Other", Identifier: "Z", URL: "https://x/z", RatingCount: model.Int(99)},
	}

	ranked := s.Rank(seed, candidates)
	require.Len(t, ranked, 5)

	var order []string
	for _, c := range ranked {
		order = append(order, c.URL)
	}
	assert.Equal(t, []string{"https://x/c", "https://x/a1", "https://x/a2", "https://x/b", "https://x/z"}, order)

	again := s.Rank(seed, candidates)
	assert.Equal(t, ranked, again, "ranking is deterministic")
}

func TestRank_SimilarProductBeatsUnrelated(t *testing.T) {
	seed := model.Product{Name: "Wireless Mouse X200", Brand: "Acme", Price: model.Float(25.0), Rating: model.Float(4.2)}
	similar := model.Product{Name: "Acme Wireless Mouse X200 Pro", Price: model.Float(27.0), Rating: model.Float(4.5), URL: "https://x/similar"}
	unrelated := model.Product{Name: "Unrelated Keyboard", Price: model.Float(15.0), Rating: model.Float(3.0), URL: "https://x/unrelated"}

	for _, preset := range []string{"canonical", "legacy"} {
		t.Run(preset, func(t *testing.T) {
			s := Scorer{Weights: WeightPresets[preset]}
			ranked := s.Rank(seed, []model.Product{unrelated, similar})
			require.Len(t, ranked, 2)
			assert.Equal(t, "https://x/similar", ranked[0].URL)
			assert.Greater(t, ranked[0].Score, ranked[1].Score, "similar product must rank strictly higher")
		})
	}
}

func TestResolveWeights(t *testing.T) {
	w, err := ResolveWeights("", nil)
	require.NoError(t, err)
	assert.Equal(t, WeightPresets["canonical"], w)

	w, err = ResolveWeights("legacy", nil)
	require.NoError(t, err)
	assert.Equal(t, Weights{Text: 0.35, Rating: 0.35, Price: 0.30}, w)

	_, err = ResolveWeights("custom", nil)
	assert.Error(t, err)

	_, err = ResolveWeights("custom", &Weights{Text: 0.5, Rating: 0.5, Price: 0.5})
	assert.Error(t, err, "weights must sum to 1")

	w, err = ResolveWeights("custom", &Weights{Text: 0.6, Rating: 0.2, Price: 0.2})
	require.NoError(t, err)
	assert.Equal(t, 0.6, w.Text)

	_, err = ResolveWeights("nope", nil)
	assert.Error(t, err)
}
