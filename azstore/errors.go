package azstore

import (
	"fmt"

	azStorageBlob "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/minaevmike/greylock/index"
)

const (
	azblobBlobNotFound      = "BlobNotFound"
	azblobContainerNotFound = "ContainerNotFound"
)

// AsStorageError unwraps the azure sdk error layering down to the service
// level StorageError, when that is what err carries.
func AsStorageError(err error) (azStorageBlob.StorageError, bool) {
	serr := &azStorageBlob.StorageError{}
	//nolint
	ierr, ok := err.(*azStorageBlob.InternalError)
	if ierr == nil || !ok {
		return azStorageBlob.StorageError{}, false
	}
	if !ierr.As(&serr) {
		return azStorageBlob.StorageError{}, false
	}
	return *serr, true
}

// wrapStorageError translates azure service errors into the transport error
// contract: a missing blob is ErrNotFound, a missing container means the
// whole replica group is gone and recovery must not be attempted against it.
// Everything else passes through unchanged.
func wrapStorageError(err error) error {
	if err == nil {
		return nil
	}
	serr, ok := AsStorageError(err)
	if !ok {
		return err
	}
	switch serr.ErrorCode {
	case azblobBlobNotFound:
		return fmt.Errorf("%s: %w", err.Error(), index.ErrNotFound)
	case azblobContainerNotFound:
		return fmt.Errorf("%s: %w", err.Error(), index.ErrGroupGone)
	}
	return err
}
