package rack

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog/log"
)

// Resolver maps a host to its rack. False means the rack is unknown.
type Resolver interface {
	Resolve(host string) (string, bool)
}

type ResolverFunc func(host string) (string, bool)

func (f ResolverFunc) Resolve(host string) (string, bool) {
	return f(host)
}

type Static struct {
	racks map[string]string
}

func NewStatic(racks map[string]string) *Static {
	copied := make(map[string]string, len(racks))
	for host, rack := range racks {
		copied[host] = rack
	}
	return &Static{racks: copied}
}

// ParseStatic builds a static topology from "host=rack" pairs.
func ParseStatic(pairs []string) (*Static, error) {
	racks := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		host, rack, ok := strings.Cut(pair, "=")
		if !ok || host == "" || rack == "" {
			return nil, fmt.Errorf("invalid rack topology entry %q: expected host=rack", pair)
		}
		racks[host] = rack
	}
	return &Static{racks: racks}, nil
}

func (s *Static) Resolve(host string) (string, bool) {
	rack, ok := s.racks[host]
	return rack, ok
}

// Cached remembers successful resolutions of the wrapped resolver. Unknown
// hosts are asked again next time.
type Cached struct {
	inner Resolver
	cache *lru.Cache
}

func NewCached(inner Resolver, size int) (*Cached, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create rack cache: %w", err)
	}
	return &Cached{
		inner: inner,
		cache: cache,
	}, nil
}

func (c *Cached) Resolve(host string) (string, bool) {
	if cached, ok := c.cache.Get(host); ok {
		return cached.(string), true
	}
	rack, ok := c.inner.Resolve(host)
	if !ok {
		return "", false
	}
	c.cache.Add(host, rack)
	log.Debug().Msgf("resolved rack for host %s into %s", host, rack)
	return rack, true
}

// Purge forgets all cached resolutions, used when topology changes.
func (c *Cached) Purge() {
	c.cache.Purge()
}
