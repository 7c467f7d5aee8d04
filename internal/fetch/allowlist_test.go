package fetch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAllowlistFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "allowlist.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAllowlist_EmptyPath_AllowsEverything(t *testing.T) {
	a, err := LoadAllowlist("")
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.True(t, a.AllowsURL("https://anything.example/article"))
}

func TestLoadAllowlist_MissingFile_ReturnsError(t *testing.T) {
	_, err := LoadAllowlist(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadAllowlist_InvalidYAML_ReturnsError(t *testing.T) {
	path := writeAllowlistFile(t, "domains: [unterminated")
	_, err := LoadAllowlist(path)
	require.Error(t, err)
}

func TestAllowlist_AllowsURL(t *testing.T) {
	path := writeAllowlistFile(t, "domains:\n  - example.com\n  - Blog.Example.ORG\n")
	a, err := LoadAllowlist(path)
	require.NoError(t, err)

	tests := []struct {
		name    string
		url     string
		allowed bool
	}{
		{"exact match", "https://example.com/a", true},
		{"subdomain match", "https://www.example.com/a", true},
		{"deep subdomain match", "https://a.b.example.com/a", true},
		{"case-insensitive entry", "https://blog.example.org/post", true},
		{"different domain", "https://example.net/a", false},
		{"suffix is not a subdomain", "https://notexample.com/a", false},
		{"unparseable url", "://bad", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, a.AllowsURL(tt.url))
		})
	}
}

func TestAllowlist_EmptyDomainList_AllowsEverything(t *testing.T) {
	path := writeAllowlistFile(t, "domains: []\n")
	a, err := LoadAllowlist(path)
	require.NoError(t, err)
	assert.True(t, a.AllowsURL("https://anything.example/a"))
}
