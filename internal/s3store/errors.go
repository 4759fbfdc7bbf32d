package s3store

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/nihr43/object-ingest/internal/entities"
)

// classifyError maps a missing key onto entities.ErrObjectNotFound so callers
// can test with errors.Is. A missing bucket is left as-is: it is a
// configuration problem, not a vanished object.
func classifyError(err error) error {
	if err == nil || errors.Is(err, entities.ErrObjectNotFound) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %w", entities.ErrObjectNotFound, err)
		case "NoSuchBucket":
			return err
		}
	}

	var httpErr *smithyhttp.ResponseError
	if errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == http.StatusNotFound {
		return fmt.Errorf("%w: %w", entities.ErrObjectNotFound, err)
	}
	return err
}
