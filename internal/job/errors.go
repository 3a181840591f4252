package job

import (
	"errors"
	"os"

	"github.com/aschie4589/quantumhive-worker/internal/apiclient"
	"github.com/aschie4589/quantumhive-worker/internal/artifact"
)

var (
	errMissingFileIDs = errors.New("job: minimize job is missing a kraus or vector file id")
	errUnknownJobType = errors.New("job: unknown job_type")
)

// toArtifactKind maps the API's file_type tag to the artifact index's own
// Kind tag; the two packages deliberately don't share a type.
func toArtifactKind(ft apiclient.FileType) artifact.Kind {
	if ft == apiclient.Kraus {
		return artifact.Kraus
	}
	return artifact.Vector
}

// statExists reports whether path exists, treating any other stat error as
// "doesn't exist" for the purposes of the partial-progress flush decision.
func statExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
