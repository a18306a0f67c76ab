package index

import (
	"github.com/datatrails/go-datatrails-common/cbor"
)

// NewCodec returns the deterministic CBOR codec used for pages and meta.
// Wire structs are tagged toarray, so the encoded field order is fixed:
// Page (flags, entries, total_size, next), Key (id, url, positions,
// timestamp), EUrl (bucket, key), IndexMeta (page_index, num_pages,
// num_leaf_pages, generation).
func NewCodec() (cbor.CBORCodec, error) {
	codec, err := cbor.NewCBORCodec(
		cbor.NewDeterministicEncOpts(),
		cbor.NewDeterministicDecOpts(), // unsigned int decodes to uint64
	)
	if err != nil {
		return cbor.CBORCodec{}, err
	}
	return codec, nil
}
