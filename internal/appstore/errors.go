package appstore

import "fmt"

// ValidationError means Apple (or local decoding) rejected the payload
// itself. It is permanent: retrying the same request cannot succeed.
type ValidationError struct {
	Reason string
	// Status carries the verifyReceipt status code when the rejection came
	// from the legacy endpoint, 0 otherwise.
	Status int
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// ServiceError means the verification service itself could not be reached
// or answered abnormally. It is transient: the caller may retry.
type ServiceError struct {
	Op  string
	Err error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("app store %s failed: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}
