package domain

import "errors"

var (
	// ErrMissingCoordinates is returned when a variable's time, latitude, longitude
	// or depth coordinate cannot be resolved.
	ErrMissingCoordinates = errors.New("missing coordinates")

	// ErrMissingStandardName is returned when a listed coordinate has no recognizable
	// standard_name.
	ErrMissingStandardName = errors.New("missing standard_name")

	// ErrUnknownFeatureType is returned when no feature type attribute matches a
	// supported geometry.
	ErrUnknownFeatureType = errors.New("unknown feature type")

	// ErrUnsupportedShape is returned for variable layouts the extractor cannot walk.
	ErrUnsupportedShape = errors.New("unsupported variable shape")

	// ErrNoValidData is returned when nothing in the requested window can be loaded.
	ErrNoValidData = errors.New("no valid data")

	// ErrVariableNotFound is returned when a requested variable is absent from the dataset.
	ErrVariableNotFound = errors.New("variable not found")
)
