// Package azstore backs the index Transport with Azure Blob Storage. Each
// replica group maps to its own Storer, normally one container per group;
// fanning an index across storage accounts works the same way.
package azstore

import (
	"context"
	"io"
	"sort"
	"sync"

	"github.com/datatrails/go-datatrails-common/azblob"
	"github.com/datatrails/go-datatrails-common/logger"

	"github.com/minaevmike/greylock/index"
)

// Store implements index.Transport over a set of azblob Storers. The active
// group list is narrowed by the index session on partial write failures, the
// Storer map itself never changes after New.
type Store struct {
	mu     sync.Mutex
	log    logger.Logger
	groups []int
	stores map[int]*azblob.Storer
}

// New builds a store from a group id to Storer mapping. Every configured
// group starts active, in ascending id order.
func New(log logger.Logger, stores map[int]*azblob.Storer) *Store {
	groups := make([]int, 0, len(stores))
	for g := range stores {
		groups = append(groups, g)
	}
	sort.Ints(groups)
	return &Store{log: log, groups: groups, stores: stores}
}

func blobPath(url index.EUrl) string {
	return url.Bucket + "/" + url.Key
}

// Read answers from the first active group that can serve the blob.
func (s *Store) Read(ctx context.Context, url index.EUrl) ([]byte, error) {
	var lastErr error = index.ErrNotFound
	for _, g := range s.activeGroups() {
		data, err := s.readGroup(ctx, g, url)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// ReadAll reads from every active group, one status per group.
func (s *Store) ReadAll(ctx context.Context, url index.EUrl) []index.Status {
	groups := s.activeGroups()
	statuses := make([]index.Status, 0, len(groups))
	for _, g := range groups {
		st := index.Status{Group: g}
		st.Data, st.Err = s.readGroup(ctx, g, url)
		statuses = append(statuses, st)
	}
	return statuses
}

// WriteGroups stores the blob in each named group. Azure page allocation is
// not reservable, so the reserve hint is ignored; cache is meaningless here
// as well.
func (s *Store) WriteGroups(ctx context.Context, groups []int, url index.EUrl, data []byte, reserve uint64, cache bool) []index.Status {
	statuses := make([]index.Status, 0, len(groups))
	for _, g := range groups {
		st := index.Status{Group: g, Err: s.writeGroup(ctx, g, url, data)}
		statuses = append(statuses, st)
	}
	return statuses
}

func (s *Store) Write(ctx context.Context, url index.EUrl, data []byte, cache bool) []index.Status {
	return s.WriteGroups(ctx, s.activeGroups(), url, data, index.DefaultReserveSize, cache)
}

// Remove deletes the blob from every active group.
func (s *Store) Remove(ctx context.Context, url index.EUrl) []index.Status {
	groups := s.activeGroups()
	statuses := make([]index.Status, 0, len(groups))
	for _, g := range groups {
		st := index.Status{Group: g}
		storer, ok := s.stores[g]
		if !ok {
			st.Err = index.ErrGroupGone
			statuses = append(statuses, st)
			continue
		}
		opCtx, cancel := s.opContext(ctx)
		st.Err = wrapStorageError(storer.Delete(opCtx, blobPath(url)))
		cancel()
		statuses = append(statuses, st)
	}
	return statuses
}

func (s *Store) Groups() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.groups...)
}

func (s *Store) SetGroups(groups []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.log != nil {
		s.log.Debugf("azstore: groups: %s -> %s", index.FormatGroups(s.groups), index.FormatGroups(groups))
	}
	s.groups = append([]int(nil), groups...)
}

func (s *Store) activeGroups() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.groups...)
}

func (s *Store) readGroup(ctx context.Context, group int, url index.EUrl) ([]byte, error) {
	storer, ok := s.stores[group]
	if !ok {
		return nil, index.ErrGroupGone
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	rr, err := storer.Reader(opCtx, blobPath(url))
	if err != nil {
		return nil, wrapStorageError(err)
	}
	defer rr.Reader.Close()
	return io.ReadAll(rr.Reader)
}

func (s *Store) writeGroup(ctx context.Context, group int, url index.EUrl, data []byte) error {
	storer, ok := s.stores[group]
	if !ok {
		return index.ErrGroupGone
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := storer.Put(opCtx, blobPath(url), azblob.NewBytesReaderCloser(data))
	return wrapStorageError(err)
}

// opContext applies the transport's default per-operation timeout when the
// caller brought no deadline of its own.
func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, index.DefaultTimeout)
}
