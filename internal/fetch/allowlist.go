package fetch

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Allowlist is the set of domains eligible for full-article scraping.
// A nil or empty Allowlist permits every domain, so deployments that
// don't configure SOURCE_ALLOWLIST_PATH keep the open behavior.
type Allowlist struct {
	domains map[string]struct{}
}

// allowlistFile is the YAML shape of the allowlist file:
//
//	domains:
//	  - example.com
//	  - blog.example.org
type allowlistFile struct {
	Domains []string `yaml:"domains"`
}

// LoadAllowlist reads path and parses the domain list. An empty path
// returns a nil Allowlist (allow everything).
func LoadAllowlist(path string) (*Allowlist, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fetch: read allowlist: %w", err)
	}
	var file allowlistFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("fetch: parse allowlist: %w", err)
	}

	domains := make(map[string]struct{}, len(file.Domains))
	for _, d := range file.Domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		domains[d] = struct{}{}
	}
	return &Allowlist{domains: domains}, nil
}

// AllowsURL reports whether rawURL's host is eligible for scraping.
func (a *Allowlist) AllowsURL(rawURL string) bool {
	if a == nil || len(a.domains) == 0 {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return a.allowsHost(u.Hostname())
}

// allowsHost matches host against the allowlisted domains, accepting
// exact matches and subdomains (www.example.com matches example.com).
func (a *Allowlist) allowsHost(host string) bool {
	host = strings.ToLower(host)
	for host != "" {
		if _, ok := a.domains[host]; ok {
			return true
		}
		i := strings.Index(host, ".")
		if i < 0 {
			return false
		}
		host = host[i+1:]
	}
	return false
}
