package trainer

import (
	"errors"
	"fmt"

	"txcat/internal/core"
)

var (
	ErrEmptyDataset   = errors.New("empty dataset")
	ErrTooFewExamples = errors.New("too few examples to stratify")
	ErrUnknownLabel   = errors.New("unknown category label")
	ErrTooFewClasses  = errors.New("need at least two categories")
)

// DataError is a fatal problem with the training dataset. No artifact is
// produced when it is returned.
type DataError struct {
	Reason   string
	Category core.Category
	Count    int
	Err      error
}

func (e *DataError) Error() string {
	if e.Category != "" {
		return fmt.Sprintf("training data: %s (category %q, %d examples)", e.Reason, e.Category, e.Count)
	}
	return "training data: " + e.Reason
}

func (e *DataError) Unwrap() error { return e.Err }
