package objectstore

import (
	"fmt"

	"github.com/lakewriter/deltaingest/internal/deltapath"
	"github.com/lakewriter/deltaingest/pkg/errors"
)

// Factory resolves a Store for a configured storage_type.
type Factory struct {
	local *Local
	s3a   *S3A
}

// NewFactory builds whichever backends the given storage type requires.
// LOCAL and S3A are wired; HDFS/AZURE/GCS are accepted by the Path Resolver
// but have no Store implementation, so requests for them fail fast here
// rather than partway through a commit.
func NewFactory(storageType deltapath.StorageType, basePath string, s3cfg S3AConfig) (*Factory, error) {
	f := &Factory{}
	switch storageType {
	case deltapath.StorageLocal:
		local, err := NewLocal(basePath)
		if err != nil {
			return nil, err
		}
		f.local = local
	case deltapath.StorageS3A:
		s3a, err := NewS3A(s3cfg)
		if err != nil {
			return nil, err
		}
		f.s3a = s3a
	default:
		return nil, errors.PermanentIO(fmt.Sprintf("storage type %q is not implemented", storageType), nil)
	}
	return f, nil
}

// Get returns the Store backing storageType, or a PermanentIO error for a
// named-but-unimplemented backend (HDFS, AZURE, GCS).
func (f *Factory) Get(storageType deltapath.StorageType) (Store, error) {
	switch storageType {
	case deltapath.StorageLocal:
		if f.local != nil {
			return f.local, nil
		}
	case deltapath.StorageS3A:
		if f.s3a != nil {
			return f.s3a, nil
		}
	}
	return nil, errors.PermanentIO(fmt.Sprintf("storage backend %q is not configured", storageType), nil)
}
