package keyword

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"stop words and short tokens dropped", "Please send the offer to me", []string{"send", "offer"}},
		{"polish stop words", "Proszę o wycenę dla firmy", []string{"wycenę", "firmy"}},
		{"dedup keeps first order", "Invoice invoice INVOICE total", []string{"invoice", "total"}},
		{"punctuation splits", "price,quote;delivery", []string{"price", "quote", "delivery"}},
		{"empty", "   ", []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Extract(tc.in))
		})
	}
}

func TestContainsPhrase(t *testing.T) {
	assert.True(t, ContainsPhrase("Re: Wycena usługi - pilne!", "wycena usługi"))
	assert.True(t, ContainsPhrase("wycena", "Wycena"))
	assert.False(t, ContainsPhrase("wycenaX usługi", "wycena usługi"))
	assert.False(t, ContainsPhrase("anything", "   "))
}

func TestCountMatches(t *testing.T) {
	text := "Quarterly invoice for consulting services"
	assert.Equal(t, 2, CountMatches(text, []string{"invoice", "consulting", "offer"}))
	assert.Equal(t, 0, CountMatches(text, nil))
	assert.True(t, ContainsAny(text, []string{"INVOICE"}))
	assert.False(t, ContainsAny(text, []string{"voice"}))
}

func TestStem(t *testing.T) {
	cases := map[string]string{
		"kartonowe": "kartono",
		"Karton":    "kart",
		"tuby":      "tub",
		"tub":       "tub",
		"ok":        "ok",
		"ŻÓŁTE":     "żół",
	}
	for in, want := range cases {
		assert.Equal(t, want, Stem(in), in)
	}
	assert.Equal(t, []string{"kart", "tub"}, Stems([]string{"karton", "kartka", "tuby", "tubą"}))
}

func TestCountMatches_InflectedForms(t *testing.T) {
	text := "Oferta: wycena kartonowych tub"
	assert.Equal(t, 1, CountMatches(text, []string{"karton"}))
	assert.Equal(t, 2, CountMatches(text, []string{"kartonowe", "tuby"}))
	assert.Equal(t, 1, CountMatches(text, []string{"wyceny"}))
	assert.False(t, ContainsAny(text, []string{"paleta"}))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "hello world 42", Normalize("  Hello,   WORLD! 42 "))
}
