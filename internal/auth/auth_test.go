package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecretsMatch(t *testing.T) {
	tests := []struct {
		got, want string
		match     bool
	}{
		{"abc", "abc", true},
		{"abc", "abd", false},
		{"abc", "ABC", false},
		{"abc ", "abc", false},
		{"", "abc", false},
		{"", "", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.match, SecretsMatch(tt.got, tt.want), "%q vs %q", tt.got, tt.want)
	}
}

func TestHashTokenIsStable(t *testing.T) {
	assert.Equal(t, HashToken("abc"), HashToken("abc"))
	assert.NotEqual(t, HashToken("abc"), HashToken("abd"))
	assert.Len(t, HashToken("abc"), 64)
}
