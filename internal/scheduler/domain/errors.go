package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database.
	ErrJobNotFound = errors.New("job not found")

	// ErrUserNotFound is returned when a job owner cannot be resolved.
	ErrUserNotFound = errors.New("user not found")

	// ErrMalformedManifest is returned when a manifest line does not have the
	// expected name,size,timestamp shape.
	ErrMalformedManifest = errors.New("malformed manifest line")

	// ErrMissingOwnerTag is returned when a dropped object carries no owner
	// identity metadata.
	ErrMissingOwnerTag = errors.New("object has no owner metadata")
)
