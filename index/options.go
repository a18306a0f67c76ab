package index

import (
	"github.com/datatrails/go-datatrails-common/cbor"
	"github.com/datatrails/go-datatrails-common/logger"
)

// Options collects the tunables accepted by Open.
type Options struct {
	log         logger.Logger
	codec       *cbor.CBORCodec
	maxPageSize uint64
	reserveSize uint64
	compression bool
}

type Option func(*Options)

// WithLogger sets the logger used for per-page traces and open/recovery
// summaries. Without it the index stays silent.
func WithLogger(log logger.Logger) Option {
	return func(o *Options) {
		o.log = log
	}
}

// WithCBORCodec overrides the codec from NewCodec.
func WithCBORCodec(codec *cbor.CBORCodec) Option {
	return func(o *Options) {
		o.codec = codec
	}
}

// WithMaxPageSize overrides DefaultMaxPageSize. Smaller values force deeper
// trees, which is what most of the tests want.
func WithMaxPageSize(size uint64) Option {
	return func(o *Options) {
		o.maxPageSize = size
	}
}

// WithReserveSize overrides the allocation hint passed with the page writes
// that heal lagging groups on open. All other writes go through
// Transport.Write and carry the backend's default reserve.
func WithReserveSize(size uint64) Option {
	return func(o *Options) {
		o.reserveSize = size
	}
}

// WithSnappyCompression stores page and meta blobs snappy-compressed behind
// a one byte framing marker. All readers and writers of the index must agree
// on this option; the uncompressed layout carries no marker.
func WithSnappyCompression() Option {
	return func(o *Options) {
		o.compression = true
	}
}
