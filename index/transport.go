package index

import (
	"context"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultReserveSize is the allocation hint handed to Transport writes
	// when the caller has no better idea. Backends that cannot reserve are
	// free to ignore it.
	DefaultReserveSize uint64 = DefaultMaxPageSize * 3 / 2

	// DefaultTimeout bounds a single transport operation. Backends apply it
	// when the caller's context carries no deadline of its own.
	DefaultTimeout = 60 * time.Second
)

// Status is one replica group's outcome for a fan-out operation. Data is set
// only for reads.
type Status struct {
	Group int
	Data  []byte
	Err   error
}

// Transport is the replicated blob store the index runs on. Every call
// blocks until the per-group outcomes are materialized; replicas are the
// backend's business. The active group list is mutable session state: the
// index narrows it when a write reaches only a subset of groups and when an
// open finds lagging replicas.
type Transport interface {
	// Read returns the blob from any one of the active groups.
	Read(ctx context.Context, url EUrl) ([]byte, error)

	// ReadAll reads the blob from every active group, one Status per group.
	// A group that is gone for good answers ErrGroupGone.
	ReadAll(ctx context.Context, url EUrl) []Status

	// WriteGroups stores the blob in the given groups. reserve is an
	// allocation hint: when len(data) exceeds it the backend should reserve
	// len(data)*1.5 instead. cache asks the backend to keep the blob warm.
	WriteGroups(ctx context.Context, groups []int, url EUrl, data []byte, reserve uint64, cache bool) []Status

	// Write is WriteGroups against the active groups with the default
	// reserve.
	Write(ctx context.Context, url EUrl, data []byte, cache bool) []Status

	// Remove deletes the blob from every active group.
	Remove(ctx context.Context, url EUrl) []Status

	Groups() []int
	SetGroups(groups []int)
}

// FormatGroups renders a group list for log lines, "1:2:3" style.
func FormatGroups(groups []int) string {
	parts := make([]string, len(groups))
	for i, g := range groups {
		parts[i] = strconv.Itoa(g)
	}
	return strings.Join(parts, ":")
}
