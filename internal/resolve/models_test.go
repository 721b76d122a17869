package resolve

import (
	"reflect"
	"testing"
)

func TestExpandWeightedModels(t *testing.T) {
	cases := []struct {
		spec string
		want []string
	}{
		{"", nil},
		{"modelA", []string{"modelA"}},
		{"modelA,modelB", []string{"modelA", "modelB"}},
		{"modelA|3,modelB|1", []string{"modelA", "modelA", "modelA", "modelB"}},
		{"modelA|2, modelB ", []string{"modelA", "modelA", "modelB"}},
		{"api:ollama:phi|x|2", []string{"api:ollama:phi|x", "api:ollama:phi|x"}},
		{"modelA|bogus", []string{"modelA"}},
		{"modelA|0", []string{"modelA"}},
		{",,modelA,", []string{"modelA"}},
		{"|3", nil},
	}
	for _, tc := range cases {
		if got := ExpandWeightedModels(tc.spec); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("ExpandWeightedModels(%q) = %v, want %v", tc.spec, got, tc.want)
		}
	}
}
