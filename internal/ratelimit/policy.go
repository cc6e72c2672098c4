package ratelimit

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/finvault/internal/models"
)

// Rule applies a policy to every path under Prefix
type Rule struct {
	Prefix string
	Policy models.RateLimitPolicy
}

// PolicyTable resolves the policy for a route path by longest matching prefix
type PolicyTable struct {
	rules    []Rule
	fallback models.RateLimitPolicy
}

func NewPolicyTable(fallback models.RateLimitPolicy, rules ...Rule) *PolicyTable {
	sorted := append([]Rule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})
	return &PolicyTable{rules: sorted, fallback: fallback}
}

// Lookup returns the policy for path
func (t *PolicyTable) Lookup(path string) models.RateLimitPolicy {
	for _, r := range t.rules {
		if strings.HasPrefix(path, r.Prefix) {
			return r.Policy
		}
	}
	return t.fallback
}

// ParsePolicy parses "max/window", for example "10/1m"
func ParsePolicy(s string) (models.RateLimitPolicy, error) {
	max, window, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return models.RateLimitPolicy{}, fmt.Errorf("invalid rate limit policy %q: want max/window", s)
	}
	n, err := strconv.Atoi(strings.TrimSpace(max))
	if err != nil || n <= 0 {
		return models.RateLimitPolicy{}, fmt.Errorf("invalid rate limit max in %q", s)
	}
	d, err := time.ParseDuration(strings.TrimSpace(window))
	if err != nil || d <= 0 {
		return models.RateLimitPolicy{}, fmt.Errorf("invalid rate limit window in %q", s)
	}
	return models.RateLimitPolicy{MaxRequests: n, Window: d}, nil
}

// ParseRules parses a comma separated list of prefix=max/window entries
func ParseRules(s string) ([]Rule, error) {
	var rules []Rule
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		prefix, limit, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(prefix) == "" {
			return nil, fmt.Errorf("invalid rate limit rule %q: want prefix=max/window", entry)
		}
		policy, err := ParsePolicy(limit)
		if err != nil {
			return nil, err
		}
		rules = append(rules, Rule{Prefix: strings.TrimSpace(prefix), Policy: policy})
	}
	return rules, nil
}
