package index

import "strconv"

// nsecBits is the width of the nanosecond field packed into the low end of
// Key.Timestamp. The seconds live above it.
const nsecBits = 30

// Key is one indexed entry. ID is the sort field, URL points at the external
// object the entry describes, Positions carries the object offsets the caller
// asked to remember. Keys order and compare on (Timestamp, ID).
type Key struct {
	_         struct{} `cbor:",toarray"`
	ID        string
	URL       EUrl
	Positions []uint64
	Timestamp uint64
}

// SetTimestamp packs (sec, nsec) as sec<<30 | (nsec & (1<<30 - 1)).
func (k *Key) SetTimestamp(sec, nsec int64) {
	k.Timestamp = uint64(sec)<<nsecBits | uint64(nsec)&(1<<nsecBits-1)
}

// TimestampParts unpacks the packed timestamp back into (sec, nsec).
func (k Key) TimestampParts() (sec, nsec int64) {
	return int64(k.Timestamp >> nsecBits), int64(k.Timestamp & (1<<nsecBits - 1))
}

// Size is the logical entry size accounted in Page.TotalSize.
func (k Key) Size() uint64 {
	return uint64(len(k.ID)) + k.URL.Size()
}

// Empty reports whether the key carries no entry at all. A key is empty iff
// its ID is empty.
func (k Key) Empty() bool {
	return k.ID == ""
}

// Compare orders keys on (Timestamp, ID).
func (k Key) Compare(other Key) int {
	if k.Timestamp != other.Timestamp {
		if k.Timestamp < other.Timestamp {
			return -1
		}
		return 1
	}
	if k.ID != other.ID {
		if k.ID < other.ID {
			return -1
		}
		return 1
	}
	return 0
}

func (k Key) Less(other Key) bool {
	return k.Compare(other) < 0
}

// Equal is equality on (Timestamp, ID). Two keys holding different urls for
// the same id and timestamp are equal; inserting the second replaces the
// first.
func (k Key) Equal(other Key) bool {
	return k.Timestamp == other.Timestamp && k.ID == other.ID
}

func (k Key) String() string {
	sec, nsec := k.TimestampParts()
	return k.ID + ":" + k.URL.String() + ":" +
		strconv.FormatInt(sec, 10) + "." + strconv.FormatInt(nsec, 10)
}
