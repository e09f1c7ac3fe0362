package interfaces

import "context"

// ValidationResult is the successful reply of the Credential Validator
// (spec.md §4.3).
type ValidationResult struct {
	UID         string
	DisplayName string
}

// CredentialValidator is the Credential Validator (C3): confirms a cookie
// set yields a successful profile probe through the Sidecar Bridge.
type CredentialValidator interface {
	Validate(ctx context.Context, cookies map[string]string, expectedUID string) (*ValidationResult, error)
}
