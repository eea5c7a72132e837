package credentials

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

var (
	// ErrSecretNotFound is returned when a secret or parameter does not exist
	ErrSecretNotFound = errors.New("secret not found")
	// ErrSecretEmpty is returned when a secret exists but has no value
	ErrSecretEmpty = errors.New("secret value is empty")
	// ErrAccessDenied is returned when the caller lacks permission to read a secret
	ErrAccessDenied = errors.New("access denied to secret")
)

// AWS error codes mapped onto the sentinels above
const (
	resourceNotFoundException = "ResourceNotFoundException"
	parameterNotFound         = "ParameterNotFound"
	accessDeniedException     = "AccessDeniedException"
)

// mapAWSError converts an SDK error into a sentinel. The secret name is kept
// in the message; the AWS message is not, as it can echo request input.
func mapAWSError(err error, op, name string) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case resourceNotFoundException, parameterNotFound:
			return fmt.Errorf("%s %s: %w", op, name, ErrSecretNotFound)
		case accessDeniedException:
			return fmt.Errorf("%s %s: %w", op, name, ErrAccessDenied)
		}
		return fmt.Errorf("%s %s: aws error %s", op, name, apiErr.ErrorCode())
	}
	return fmt.Errorf("%s %s: %w", op, name, err)
}
