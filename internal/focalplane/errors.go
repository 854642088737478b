package focalplane

import "errors"

var (
	// ErrUnknownSensor is returned when a sensor id is not in the registry.
	ErrUnknownSensor = errors.New("unknown sensor")

	// ErrUnsupportedSensorKind is returned for sensors that are not
	// focus-alignment sensors. The transform model only covers those.
	ErrUnsupportedSensorKind = errors.New("unsupported sensor kind: not a focus-alignment sensor")

	// ErrDegenerateTransform is returned at construction when a CD matrix
	// has a zero or near-zero determinant.
	ErrDegenerateTransform = errors.New("degenerate scale matrix")

	// ErrInvalidCalibration covers every other malformed calibration record:
	// duplicate or empty ids, non-positive extents or scales, bad signs,
	// unknown scale kinds.
	ErrInvalidCalibration = errors.New("invalid calibration")
)
