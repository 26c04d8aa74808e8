package bucket

import (
	"fmt"

	"github.com/blobvault/blobvault/internal/storage"
)

// Object-store error codes the manager classifies.
const (
	accessDeniedCode          = "AccessDenied"
	invalidAccessKeyIDCode    = "InvalidAccessKeyId"
	signatureDoesNotMatchCode = "SignatureDoesNotMatch"
	methodNotAllowedCode      = "MethodNotAllowed"
)

// Human-readable causes for classified error codes.
const (
	insufficientPermCreateBucketMsg = "Insufficient permissions to create bucket."
	invalidAccessKeyIDMsg           = "The access key ID provided does not exist."
	signatureDoesNotMatchMsg        = "The secret access key does not match the access key ID."
	bucketOwnershipMsg              = "Bucket exists but is not owned by the configured identity."
	invalidIdentityMsg              = "The configured identity is invalid."
)

// Error is a bucket or credential failure translated into a human-readable
// message. The original object-store error code and cause are preserved.
type Error struct {
	Message string
	Code    string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// classify maps an object-store error to a typed Error using the per-activity
// code table; unrecognized codes get the generic check-the-logs message.
func classify(err error, activity string, known map[string]string) *Error {
	code := storage.ErrorCode(err)
	if msg, ok := known[code]; ok {
		return &Error{Message: msg, Code: code, Err: err}
	}
	return &Error{
		Message: fmt.Sprintf("An unexpected error occurred %s. Check the logs for more details.", activity),
		Code:    code,
		Err:     err,
	}
}
