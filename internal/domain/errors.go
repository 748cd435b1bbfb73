package domain

import "errors"

var (
	// ErrInvalidImage means the input could not be decoded or read as an
	// RGB bitmap. It aborts the request that carried the image.
	ErrInvalidImage = errors.New("invalid image")

	// ErrIneligibleLocation means the farmer did not confirm being inside the
	// service area, so the supplier search must not run.
	ErrIneligibleLocation = errors.New("location not eligible for supplier search")

	// ErrInvalidOrigin means a device coordinate lies outside the valid
	// latitude/longitude range. Suppliers can still be listed without it.
	ErrInvalidOrigin = errors.New("origin out of range")
)
