package ciwatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOwnerRepo(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		wantOwner string
		wantRepo  string
		wantErr   bool
	}{
		{"plain https URL", "https://github.com/acme/widgets", "acme", "widgets", false},
		{"with .git suffix", "https://github.com/acme/widgets.git", "acme", "widgets", false},
		{"with trailing slash", "https://github.com/acme/widgets/", "acme", "widgets", false},
		{"missing repo", "https://github.com/acme", "", "", true},
		{"empty path", "https://github.com", "", "", true},
		{"unparsable", "://bad", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, repo, err := ParseOwnerRepo(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOwner, owner)
			assert.Equal(t, tt.wantRepo, repo)
		})
	}
}

func TestNewGitHubProvider(t *testing.T) {
	t.Run("valid repo URL", func(t *testing.T) {
		p, err := NewGitHubProvider(context.Background(), "https://github.com/acme/widgets", "", nil, nil)
		require.NoError(t, err)
		assert.NotNil(t, p)
	})

	t.Run("invalid repo URL", func(t *testing.T) {
		_, err := NewGitHubProvider(context.Background(), "https://github.com/acme", "", nil, nil)
		assert.Error(t, err)
	})
}
