// Package cachedstore wraps an index Transport with a read-through LRU blob
// cache. The write-path cache hint decides what gets kept: blobs written
// with cache set stay warm, everything else is cached only once it is read.
package cachedstore

import (
	"context"

	lru "github.com/hashicorp/golang-lru"

	"github.com/minaevmike/greylock/index"
)

type Store struct {
	inner index.Transport
	cache *lru.Cache
}

// Wrap decorates t with a cache of at most size blobs.
func Wrap(t index.Transport, size int) (*Store, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Store{inner: t, cache: cache}, nil
}

// Read serves from the cache when it can, populating it on a miss.
func (s *Store) Read(ctx context.Context, url index.EUrl) ([]byte, error) {
	if v, ok := s.cache.Get(url.String()); ok {
		return append([]byte(nil), v.([]byte)...), nil
	}
	data, err := s.inner.Read(ctx, url)
	if err != nil {
		return nil, err
	}
	s.cache.Add(url.String(), append([]byte(nil), data...))
	return data, nil
}

// ReadAll always goes to the replicas: its callers are comparing per-group
// state, a cache would defeat them.
func (s *Store) ReadAll(ctx context.Context, url index.EUrl) []index.Status {
	return s.inner.ReadAll(ctx, url)
}

func (s *Store) WriteGroups(ctx context.Context, groups []int, url index.EUrl, data []byte, reserve uint64, cache bool) []index.Status {
	statuses := s.inner.WriteGroups(ctx, groups, url, data, reserve, cache)
	s.afterWrite(url, data, cache, statuses)
	return statuses
}

func (s *Store) Write(ctx context.Context, url index.EUrl, data []byte, cache bool) []index.Status {
	statuses := s.inner.Write(ctx, url, data, cache)
	s.afterWrite(url, data, cache, statuses)
	return statuses
}

func (s *Store) Remove(ctx context.Context, url index.EUrl) []index.Status {
	s.cache.Remove(url.String())
	return s.inner.Remove(ctx, url)
}

func (s *Store) Groups() []int {
	return s.inner.Groups()
}

func (s *Store) SetGroups(groups []int) {
	s.inner.SetGroups(groups)
}

// Len reports how many blobs the cache holds.
func (s *Store) Len() int {
	return s.cache.Len()
}

// afterWrite keeps the cache coherent with the blob that just went out: a
// cached entry is refreshed or dropped, and hinted writes that reached at
// least one group are kept warm.
func (s *Store) afterWrite(url index.EUrl, data []byte, cache bool, statuses []index.Status) {
	ok := false
	for _, st := range statuses {
		if st.Err == nil {
			ok = true
			break
		}
	}
	if !ok {
		s.cache.Remove(url.String())
		return
	}
	if cache || s.cache.Contains(url.String()) {
		s.cache.Add(url.String(), append([]byte(nil), data...))
	}
}
