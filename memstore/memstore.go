// Package memstore is an in-memory replicated blob store. It implements the
// index Transport with one blob map per replica group, plus per-group fault
// injection, which makes it the backend every recovery test runs against.
package memstore

import (
	"context"
	"sync"

	"github.com/datatrails/go-datatrails-common/logger"

	"github.com/minaevmike/greylock/index"
)

// Store holds the blobs of every configured replica group. The active group
// list is session state mutated through SetGroups, exactly as a networked
// backend would narrow its session on partial failures. All methods are safe
// for concurrent use.
type Store struct {
	mu     sync.Mutex
	log    logger.Logger
	groups []int
	blobs  map[int]map[string][]byte

	readErr  map[int]error
	writeErr map[int]error
	gone     map[int]bool

	calls map[string]int
}

// New creates a store with the given replica groups, all of them active.
func New(log logger.Logger, groups ...int) *Store {
	s := &Store{
		log:      log,
		groups:   append([]int(nil), groups...),
		blobs:    make(map[int]map[string][]byte),
		readErr:  make(map[int]error),
		writeErr: make(map[int]error),
		gone:     make(map[int]bool),
		calls:    make(map[string]int),
	}
	for _, g := range groups {
		s.blobs[g] = make(map[string][]byte)
	}
	return s
}

// SetReadErr makes every read against the group fail with err. A nil err
// clears the fault.
func (s *Store) SetReadErr(group int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.readErr, group)
		return
	}
	s.readErr[group] = err
}

// SetWriteErr makes every write against the group fail with err. A nil err
// clears the fault.
func (s *Store) SetWriteErr(group int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.writeErr, group)
		return
	}
	s.writeErr[group] = err
}

// DropGroup makes the group answer ErrGroupGone everywhere, the way a
// permanently unreachable replica does.
func (s *Store) DropGroup(group int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gone[group] = true
}

// RestoreGroup clears a DropGroup.
func (s *Store) RestoreGroup(group int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.gone, group)
}

// BlobCount reports how many blobs the group holds.
func (s *Store) BlobCount(group int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs[group])
}

// MethodCallCount reports how often the named transport method ran. Read,
// ReadAll, WriteGroups and Remove are counted; a Write counts as the
// WriteGroups call it makes.
func (s *Store) MethodCallCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func (s *Store) incMethodCall(name string) {
	s.calls[name]++
}

// Read answers from the first active group able to serve the blob.
func (s *Store) Read(ctx context.Context, url index.EUrl) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incMethodCall("Read")

	var lastErr error = index.ErrNotFound
	for _, g := range s.groups {
		if err := s.groupFault(g, s.readErr); err != nil {
			lastErr = err
			continue
		}
		if data, ok := s.blobs[g][url.String()]; ok {
			return append([]byte(nil), data...), nil
		}
	}
	return nil, lastErr
}

// ReadAll reads from every active group, one status per group.
func (s *Store) ReadAll(ctx context.Context, url index.EUrl) []index.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incMethodCall("ReadAll")

	statuses := make([]index.Status, 0, len(s.groups))
	for _, g := range s.groups {
		st := index.Status{Group: g}
		if err := s.groupFault(g, s.readErr); err != nil {
			st.Err = err
		} else if data, ok := s.blobs[g][url.String()]; ok {
			st.Data = append([]byte(nil), data...)
		} else {
			st.Err = index.ErrNotFound
		}
		statuses = append(statuses, st)
	}
	return statuses
}

// WriteGroups stores the blob in each named group. The reserve and cache
// hints mean nothing to memory and are ignored.
func (s *Store) WriteGroups(ctx context.Context, groups []int, url index.EUrl, data []byte, reserve uint64, cache bool) []index.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incMethodCall("WriteGroups")

	statuses := make([]index.Status, 0, len(groups))
	for _, g := range groups {
		st := index.Status{Group: g}
		if err := s.groupFault(g, s.writeErr); err != nil {
			st.Err = err
		} else {
			if s.blobs[g] == nil {
				s.blobs[g] = make(map[string][]byte)
			}
			s.blobs[g][url.String()] = append([]byte(nil), data...)
		}
		statuses = append(statuses, st)
	}
	return statuses
}

func (s *Store) Write(ctx context.Context, url index.EUrl, data []byte, cache bool) []index.Status {
	s.mu.Lock()
	groups := append([]int(nil), s.groups...)
	s.mu.Unlock()
	return s.WriteGroups(ctx, groups, url, data, index.DefaultReserveSize, cache)
}

// Remove deletes the blob from every active group.
func (s *Store) Remove(ctx context.Context, url index.EUrl) []index.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incMethodCall("Remove")

	statuses := make([]index.Status, 0, len(s.groups))
	for _, g := range s.groups {
		st := index.Status{Group: g}
		if err := s.groupFault(g, s.writeErr); err != nil {
			st.Err = err
		} else {
			delete(s.blobs[g], url.String())
		}
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
		s.log.Debugf("memstore: groups: %s -> %s", index.FormatGroups(s.groups), index.FormatGroups(groups))
	}
	s.groups = append([]int(nil), groups...)
}

func (s *Store) groupFault(group int, injected map[int]error) error {
	if s.gone[group] {
		return index.ErrGroupGone
	}
	return injected[group]
}
