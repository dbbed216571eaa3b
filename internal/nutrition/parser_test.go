package nutrition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_Parse(t *testing.T) {
	tests := []struct {
		name string
		desc string
		want Facts
	}{
		{
			name: "search description",
			desc: "Per 100g - Calories: 52.0kcal | Fat: 0.2g | Carbs: 14.0g | Protein: 0.3g",
			want: Facts{Calories: "52.0kcal", Fat: "0.2g", Carbohydrates: "14.0g", Protein: "0.3g"},
		},
		{
			name: "integer values",
			desc: "Per 1 serving - Calories: 295kcal | Fat: 14g | Carbs: 24g | Protein: 17g",
			want: Facts{Calories: "295kcal", Fat: "14g", Carbohydrates: "24g", Protein: "17g"},
		},
		{
			name: "tight spacing",
			desc: "Calories:52kcal|Fat:0.17g|Carbs:13.81g|Protein:0.26g",
			want: Facts{Calories: "52kcal", Fat: "0.17g", Carbohydrates: "13.81g", Protein: "0.26g"},
		},
	}

	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := p.Parse(tt.desc)
			require.True(t, res.OK, res.Reason)
			assert.Equal(t, tt.want, res.Facts)
			assert.Empty(t, res.Reason)
		})
	}
}

func TestParser_Mismatch(t *testing.T) {
	p := NewParser()
	for _, desc := range []string{
		"",
		"   ",
		"Per 100g - Calories: 52kcal | Fat: 0.2g",
		"Energy: 200kJ | Fat: 1g | Carbs: 2g | Protein: 3g",
		"Per 100g - Fat: 0.2g | Calories: 52kcal | Carbs: 14g | Protein: 0.3g",
		"Per 100g - Calories: abckcal | Fat: 0.2g | Carbs: 14.0g | Protein: 0.3g",
		"Per 100g - Calories: 52.0kcal | Fat: -g | Carbs: 14.0g | Protein: 0.3g",
		"Per 100g - Calories: 52.0kcal | Fat: 0.2g | Carbs: 1.2.3g | Protein: 0.3g",
	} {
		res := p.Parse(desc)
		assert.False(t, res.OK, desc)
		assert.NotEmpty(t, res.Reason, desc)
		assert.Equal(t, Facts{}, res.Facts, desc)
	}
}

func TestParseMismatchPolicy(t *testing.T) {
	for in, want := range map[string]MismatchPolicy{
		"":      SoftMismatch,
		"soft":  SoftMismatch,
		" HARD": HardMismatch,
	} {
		got, err := ParseMismatchPolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseMismatchPolicy("lenient")
	assert.Error(t, err)

	assert.Equal(t, "soft", SoftMismatch.String())
	assert.Equal(t, "hard", HardMismatch.String())
}
