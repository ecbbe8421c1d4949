package service

import (
	"sort"
	"sync"
)

// pathLocks serializes refreshes that touch the same note paths while letting
// refreshes over disjoint paths proceed concurrently.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*pathLock)}
}

// Lock acquires every path in sorted order and returns the release function.
func (p *pathLocks) Lock(paths ...string) (unlock func()) {
	keys := uniqueSorted(paths)
	held := make([]*pathLock, 0, len(keys))
	for _, k := range keys {
		p.mu.Lock()
		l, ok := p.locks[k]
		if !ok {
			l = &pathLock{}
			p.locks[k] = l
		}
		l.refs++
		p.mu.Unlock()

		l.mu.Lock()
		held = append(held, l)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			p.mu.Lock()
			held[i].refs--
			if held[i].refs == 0 {
				delete(p.locks, keys[i])
			}
			p.mu.Unlock()
		}
	}
}

func (p *pathLocks) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}

func uniqueSorted(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, s := range paths {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
