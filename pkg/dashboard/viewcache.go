package dashboard

import (
	"container/list"
	"sync"
)

const defaultViewCacheSize = 8

type viewCacheItem struct {
	token string
	view  any
}

// viewCache keeps the views built for the most recently used data tokens, so
// switching filters back to an earlier selection reuses its views while the cache
// still holds the same data versions. The zero value holds defaultViewCacheSize views.
type viewCache struct {
	size int

	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element
}

// getOrBuild returns the view built for token, building and storing it on a miss.
// The least recently used view is evicted once the cache is over capacity.
func (c *viewCache) getOrBuild(token string, build func() any) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ll == nil {
		c.ll = list.New()
		c.items = make(map[string]*list.Element)
	}
	if elem, ok := c.items[token]; ok {
		c.ll.MoveToFront(elem)
		return elem.Value.(*viewCacheItem).view
	}

	view := build()
	c.items[token] = c.ll.PushFront(&viewCacheItem{token: token, view: view})
	if c.ll.Len() > c.capacity() {
		oldest := c.ll.Remove(c.ll.Back()).(*viewCacheItem)
		delete(c.items, oldest.token)
	}
	return view
}

func (c *viewCache) capacity() int {
	if c.size <= 0 {
		return defaultViewCacheSize
	}
	return c.size
}

func (c *viewCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ll == nil {
		return 0
	}
	return c.ll.Len()
}
