package textmatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"abc", "abc", 1.0},
		{"abc", "xyz", 0.0},
		{"Cisco", "cisco", 1.0},
		{"router", "routr", 10.0 / 11.0},
		{"security", "securty", 14.0 / 15.0},
		{"network", "netwrk", 12.0 / 13.0},
		{"ports", "port", 8.0 / 9.0},
		{"ab", "", 0.0},
		{"", "", 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			assert.InDelta(t, tt.want, Similarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestSimilaritySymmetric(t *testing.T) {
	pairs := [][2]string{
		{"abcd", "bcda"},
		{"listening", "listning"},
		{"aaab", "abaa"},
		{"security baseline", "baseline security"},
		{"Memory", "mem"},
	}
	for _, p := range pairs {
		assert.Equal(t, Similarity(p[0], p[1]), Similarity(p[1], p[0]), "%q vs %q", p[0], p[1])
	}
}

func TestSimilarityInRange(t *testing.T) {
	inputs := []string{"", "a", "audit", "run audit 16", "ÄÖÜ", "switch mac table"}
	for _, a := range inputs {
		for _, b := range inputs {
			s := Similarity(a, b)
			assert.GreaterOrEqual(t, s, 0.0)
			assert.LessOrEqual(t, s, 1.0)
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Audit-16!", "audit 16"},
		{"audit 16", "audit 16"},
		{"  Run   AUDIT\t16 ", "run audit 16"},
		{"what's up?", "what s up"},
		{"snake_case stays", "snake_case stays"},
		{"", ""},
		{"!!!", ""},
		{"Ｆｕｌｌｗｉｄｔｈ", "fullwidth"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"Audit-16!", "Check Logged-in Users & Sessions", "İstanbul ports", "Ｆｕｌｌ", "a b"}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), in)
	}
}

func TestNormalizeCaseInsensitive(t *testing.T) {
	assert.Equal(t, Normalize("Audit-16!"), Normalize("audit 16"))
	assert.Equal(t, Normalize("SHOW Network"), Normalize("show network"))
}

func TestWords(t *testing.T) {
	assert.Equal(t, []string{"run", "audit", "16"}, Words("Run audit #16"))
	assert.Empty(t, Words("   "))
}
