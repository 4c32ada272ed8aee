package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePlate(t *testing.T) {
	cases := map[string]string{
		"WP-CAB-1234":  "WPCAB1234",
		" wp cab 1234": "WPCAB1234",
		"a123bc 02":    "A123BC02",
		"т777ох 77":    "Т777ОХ77",
		"--- ":         "",
		"":             "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePlate(in), "input %q", in)
	}
}
