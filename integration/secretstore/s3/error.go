package s3

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/dmitrymomot/certrobot/core/renewal"
)

// classifyError converts S3 errors to domain errors so callers can branch on
// sentinels instead of SDK types.
func classifyError(err error, operation string) error {
	if err == nil {
		return nil
	}

	// HeadObject reports a missing key as NotFound, GetObject as NoSuchKey.
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %s", renewal.ErrCertificateNotFound, operation)
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return fmt.Errorf("%w: %s", renewal.ErrCertificateNotFound, operation)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch code {
		case "NotFound", "NoSuchKey":
			return fmt.Errorf("%w: %s", renewal.ErrCertificateNotFound, operation)
		default:
			return fmt.Errorf("%s failed (code: %s): %w", operation, code, err)
		}
	}

	return fmt.Errorf("%s failed: %w", operation, err)
}
