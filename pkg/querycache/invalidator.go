package querycache

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Pattern selects cache entries for invalidation: either one exact Key or every
// key whose endpoint starts with a prefix.
type Pattern struct {
	exact  *Key
	prefix string
	union  []Pattern
}

// Exact matches key only.
func Exact(key Key) Pattern {
	k := key
	return Pattern{exact: &k}
}

// Prefix matches every key whose endpoint starts with prefix, whatever its parameters.
func Prefix(prefix string) Pattern {
	return Pattern{prefix: prefix}
}

// Matches reports whether key is selected by the pattern.
func (p Pattern) Matches(key Key) bool {
	if p.union != nil {
		for _, u := range p.union {
			if u.Matches(key) {
				return true
			}
		}
		return false
	}
	if p.exact != nil {
		return *p.exact == key
	}
	return strings.HasPrefix(key.Endpoint, p.prefix)
}

func (p Pattern) String() string {
	if p.union != nil {
		parts := make([]string, len(p.union))
		for i, u := range p.union {
			parts[i] = u.String()
		}
		return strings.Join(parts, "|")
	}
	if p.exact != nil {
		return "=" + p.exact.String()
	}
	return p.prefix + "*"
}

// Invalidator maps successful mutations to the cache entries they make stale.
type Invalidator struct {
	cache  *Cache
	logger zerolog.Logger

	mu    sync.RWMutex
	rules map[string][]Pattern
}

// NewInvalidator creates an Invalidator over cache with no rules.
func NewInvalidator(cache *Cache, logger zerolog.Logger) *Invalidator {
	return &Invalidator{
		cache:  cache,
		logger: logger.With().Str("component", "Invalidator").Logger(),
		rules:  make(map[string][]Pattern),
	}
}

// Register adds the patterns invalidated whenever mutationType succeeds.
func (i *Invalidator) Register(mutationType string, patterns ...Pattern) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.rules[mutationType] = append(i.rules[mutationType], patterns...)
}

// Patterns returns the registered patterns for mutationType.
func (i *Invalidator) Patterns(mutationType string) []Pattern {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return append([]Pattern(nil), i.rules[mutationType]...)
}

// OnMutationSuccess invalidates the registered patterns of mutationType plus any
// extra patterns given. An entry matched by several patterns is refetched only once.
// It returns the number of distinct entries invalidated.
func (i *Invalidator) OnMutationSuccess(mutationType string, extra ...Pattern) int {
	patterns := append(i.Patterns(mutationType), extra...)
	if len(patterns) == 0 {
		i.logger.Warn().Str("mutation", mutationType).Msg("No invalidation rules for mutation.")
		return 0
	}
	n := i.cache.Invalidate(anyOf(patterns))
	i.logger.Info().Str("mutation", mutationType).Int("invalidated", n).Msg("Mutation succeeded, invalidated dependent queries.")
	return n
}

// anyOf combines patterns so a single Invalidate pass visits each entry once.
func anyOf(patterns []Pattern) Pattern {
	if len(patterns) == 1 {
		return patterns[0]
	}
	return Pattern{union: patterns}
}
