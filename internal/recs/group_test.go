package recs

import (
	"encoding/json"
	"testing"

	"altfinder/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rated(id string, score float64, rating *float64, count *int, price *float64) model.ScoredCandidate {
	return model.ScoredCandidate{
		Product: model.Product{Identifier: id, Rating: rating, RatingCount: count, Price: price},
		Score:   score,
	}
}

func productIDs(list []model.Product) []string {
	out := []string{}
	for _, p := range list {
		out = append(out, p.Identifier)
	}
	return out
}

func TestGroup(t *testing.T) {
	ranked := []model.ScoredCandidate{
		rated("a", 0.9, model.Float(4.0), model.Int(10), model.Float(100)),
		rated("b", 0.8, nil, nil, model.Float(200)),
		rated("c", 0.7, model.Float(4.8), model.Int(5), model.Float(300)),
		rated("d", 0.6, model.Float(4.8), model.Int(50), nil),
		rated("e", 0.5, model.Float(3.0), nil, model.Float(900)),
	}
	buckets := QuantileBuckets{}.Bucketize(model.Product{}, ranked)

	groups, flat := Group(ranked, buckets, 5, 15)

	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, productIDs(flat))
	assert.Equal(t, []string{"d", "c", "a", "e"}, productIDs(groups.TopRated), "rating desc then count desc, unrated excluded")
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, productIDs(groups.FeatureMatch))
	assert.Equal(t, []string{"a", "b"}, productIDs(groups.Budget))
}

func TestGroup_LimitCapsGroups(t *testing.T) {
	var ranked []model.ScoredCandidate
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		ranked = append(ranked, rated(id, 0.5, model.Float(4), nil, nil))
	}
	buckets := QuantileBuckets{}.Bucketize(model.Product{}, ranked)

	groups, flat := Group(ranked, buckets, 5, 3)
	assert.Len(t, flat, 3)
	assert.Len(t, groups.TopRated, 3)
	assert.Len(t, groups.FeatureMatch, 3)
	assert.Len(t, groups.MidRange, 3)

	groups, flat = Group(ranked, buckets, 5, 15)
	assert.Len(t, flat, 7)
	assert.Len(t, groups.FeatureMatch, 5)
}

func TestGroup_EmptySerializesAsArrays(t *testing.T) {
	groups, flat := Group(nil, QuantileBuckets{}.Bucketize(model.Product{}, nil), 5, 15)

	b, err := json.Marshal(model.RecommendationResult{Groups: groups, Flat: flat})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"flat":[]`)
	assert.Contains(t, string(b), `"topRated":[]`)
	assert.Contains(t, string(b), `"premium":[]`)
}

func TestClampLimit(t *testing.T) {
	o := DefaultOptions()
	tests := []struct {
		in, expected int
	}{
		{0, 15},
		{-3, 15},
		{1, 5},
		{20, 20},
		{500, 50},
	}
	for _, tt := range tests {
		if got := o.ClampLimit(tt.in); got != tt.expected {
			t.Errorf("ClampLimit(%d) = %d, expected %d", tt.in, got, tt.expected)
		}
	}
}
