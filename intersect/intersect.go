// Package intersect computes the keys present in every one of a set of
// indexes by merging their leaf-chain iterators, with resumable pagination.
package intersect

import (
	"context"
	"math"

	"github.com/datatrails/go-datatrails-common/logger"

	"github.com/minaevmike/greylock/index"
)

// Result maps each index start url (by EUrl.String) to the matching keys
// from that index. Key ids and timestamps agree across the lists; the urls
// may differ because each index stores its own payload for the same entry.
type Result struct {
	Keys      map[string][]index.Key
	Completed bool
}

// Intersector merges any number of indexes reachable through one transport.
type Intersector struct {
	T    index.Transport
	Log  logger.Logger
	Opts []index.Option
}

// IntersectAll returns the full intersection in one call.
func (s *Intersector) IntersectAll(ctx context.Context, indexes []index.EUrl) (Result, error) {
	start := ""
	return s.Intersect(ctx, indexes, &start, math.MaxInt)
}

// Intersect searches for keys present in every index, starting with the key
// at or after *start and returning at most num entries per index.
//
// On return *start holds the resumption token for the next call; the caller
// must pass it back unchanged or risk skipped or duplicated entries. The
// intersection is complete when Completed is set, when *start comes back
// empty, or when fewer than num entries come back.
//
// The token is an id alone while keys order on (timestamp, id), so
// resumption is exact only when ids are unique per timestamp bucket.
func (s *Intersector) Intersect(ctx context.Context, indexes []index.EUrl, start *string, num int) (Result, error) {
	type iter struct {
		name string
		it   *index.Iterator
		end  *index.Iterator
	}

	if len(indexes) == 0 {
		*start = ""
		return Result{Keys: map[string][]index.Key{}, Completed: true}, nil
	}

	idata := make([]iter, 0, len(indexes))
	for _, name := range indexes {
		idx, err := index.Open(ctx, s.T, name, s.Opts...)
		if err != nil {
			return Result{}, err
		}
		idata = append(idata, iter{
			name: name.String(),
			it:   idx.BeginAt(ctx, *start),
			end:  idx.End(),
		})
	}

	res := Result{Keys: make(map[string][]index.Key)}

	for !res.Completed {
		// find the minimum current key and everyone holding it
		var pos []int
		for current := range idata {
			it := idata[current].it

			if it.Equal(idata[current].end) {
				res.Completed = true
				break
			}

			if len(pos) == 0 {
				pos = append(pos, current)
				continue
			}

			minKey := idata[pos[0]].it.Key()
			switch {
			case it.Key().Equal(minKey):
				pos = append(pos, current)
			case it.Key().Less(minKey):
				pos = pos[:0]
				pos = append(pos, current)
			}
		}

		if res.Completed {
			*start = ""
			break
		}

		if len(pos) != len(idata) {
			// no agreement yet, push the laggards forward
			for _, i := range pos {
				idata[i].it.Next(ctx)
			}
			continue
		}

		*start = idata[pos[0]].it.Key().ID
		if len(res.Keys[idata[0].name]) == num {
			break
		}

		for _, i := range pos {
			k := idata[i].it.Key()
			res.Keys[idata[i].name] = append(res.Keys[idata[i].name], k)
			idata[i].it.Next(ctx)
		}
	}

	if s.Log != nil {
		s.Log.Debugf("intersect: indexes: %d, matched: %d, completed: %v, next: %q",
			len(indexes), len(res.Keys[idata[0].name]), res.Completed, *start)
	}
	return res, nil
}
