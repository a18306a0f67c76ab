package index

// EUrl names one blob in the store. The bucket is the storage namespace, the
// key is the blob name within it. The zero value is the chain terminator: a
// leaf whose Next has an empty key is the last leaf.
type EUrl struct {
	_      struct{} `cbor:",toarray"`
	Bucket string
	Key    string
}

func (u EUrl) Size() uint64 {
	return uint64(len(u.Bucket) + len(u.Key))
}

func (u EUrl) String() string {
	return u.Bucket + "/" + u.Key
}

// Empty reports whether the url terminates a leaf chain. Only the key is
// significant, a bucket with no key still addresses nothing.
func (u EUrl) Empty() bool {
	return u.Key == ""
}

func (u EUrl) Equal(other EUrl) bool {
	return u.Bucket == other.Bucket && u.Key == other.Key
}

// Compare orders urls lexicographically on (bucket, key).
func (u EUrl) Compare(other EUrl) int {
	if u.Bucket != other.Bucket {
		if u.Bucket < other.Bucket {
			return -1
		}
		return 1
	}
	if u.Key != other.Key {
		if u.Key < other.Key {
			return -1
		}
		return 1
	}
	return 0
}

func (u EUrl) Less(other EUrl) bool {
	return u.Compare(other) < 0
}
