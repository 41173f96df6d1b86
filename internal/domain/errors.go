package domain

import (
	"errors"
	"fmt"
)

// Structural errors reject a whole upload.
var (
	ErrNoTimestampSource = errors.New("no usable timestamp source")
	ErrEmptyDataset      = errors.New("dataset is empty")
	ErrMissingGeoColumns = errors.New("geo reference is missing required columns")
	ErrDuplicateStation  = errors.New("duplicate station in geo reference")
)

// Lookup errors returned by the aggregator.
var (
	ErrUnknownVariable = errors.New("unknown variable")
	ErrNoData          = errors.New("no data")
)

// Stage names a processing step for error classification.
type Stage string

const (
	StageDecode      Stage = "decode"
	StageNormalize   Stage = "normalize"
	StageTimestamp   Stage = "timestamp"
	StageDeduplicate Stage = "deduplicate"
	StageInterpolate Stage = "interpolate"
)

// StageError reports which step rejected an upload and for which station.
type StageError struct {
	Stage   Stage
	Station string
	Err     error
}

func (e *StageError) Error() string {
	if e.Station == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s station %q: %v", e.Stage, e.Station, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
