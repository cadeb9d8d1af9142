package aggindex

import (
	"fmt"

	contextutils "github.com/OrtoQBank/ortoqbank-sub001/internal/utils"
)

// RangeError reports a rank-access outside the current bounds of a namespace.
// Callers doing concurrent sampling treat it as retryable.
type RangeError struct {
	Partition string
	Namespace string
	Rank      int
	Size      int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("rank %d out of range for %s/%s (size %d)", e.Rank, e.Partition, e.Namespace, e.Size)
}

func (e *RangeError) Unwrap() error {
	return contextutils.ErrRankOutOfRange
}
