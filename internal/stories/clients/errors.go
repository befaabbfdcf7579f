package clients

import (
	"errors"
	"fmt"
)

// PartialBatchError reports an add batch in which some slots failed. The
// batch result still lists every slot.
type PartialBatchError struct {
	Server string
	Total  int
	Failed []SlotResult
}

func (e *PartialBatchError) Error() string {
	msg := fmt.Sprintf("%d of %d slots failed on %s", len(e.Failed), e.Total, e.Server)
	if len(e.Failed) > 0 {
		msg += ": " + e.Failed[0].Err.Error()
	}
	return msg
}

func (e *PartialBatchError) Unwrap() []error {
	out := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		out = append(out, f.Err)
	}
	return out
}

func IsPartialBatch(err error) bool {
	var target *PartialBatchError
	return errors.As(err, &target)
}
