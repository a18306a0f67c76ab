package index

import "errors"

var (
	// ErrNotFound reports a missing page blob or, from Remove, a key that is
	// not in the index.
	ErrNotFound = errors.New("page or key not found")

	// ErrIO reports that a write reached none of the replica groups it was
	// sent to.
	ErrIO = errors.New("all replica writes failed")

	// ErrCorrupt reports a page or meta blob that failed to decode.
	ErrCorrupt = errors.New("blob decode failed")

	// ErrGroupGone marks a replica group as permanently unreachable. Opens
	// drop such groups from consideration instead of trying to heal them.
	ErrGroupGone = errors.New("replica group permanently unreachable")
)
