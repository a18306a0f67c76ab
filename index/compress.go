package index

import (
	"fmt"

	"github.com/golang/snappy"
)

// Compression markers, one byte ahead of the blob body when the index runs
// with WithSnappyCompression. The uncompressed layout has no marker at all,
// the two framings are not interchangeable.
const (
	blobNoCompression     = 0
	blobSnappyCompression = 1
)

func (idx *Index) encodeBlob(v any) ([]byte, error) {
	data, err := idx.codec.MarshalCBOR(v)
	if err != nil {
		return nil, err
	}
	if !idx.compression {
		return data, nil
	}
	enc := snappy.Encode(nil, data)
	out := make([]byte, 0, len(enc)+1)
	out = append(out, blobSnappyCompression)
	return append(out, enc...), nil
}

func (idx *Index) decodeBlob(data []byte, v any) error {
	if idx.compression {
		if len(data) == 0 {
			return ErrCorrupt
		}
		switch data[0] {
		case blobNoCompression:
			data = data[1:]
		case blobSnappyCompression:
			dec, err := snappy.Decode(nil, data[1:])
			if err != nil {
				return fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			data = dec
		default:
			return fmt.Errorf("%w: bad compression marker %d", ErrCorrupt, data[0])
		}
	}
	if err := idx.codec.UnmarshalInto(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return nil
}
