package output

import (
	"github.com/ab180/exchange/pkg/future"
)

// Output is a destination of serialized pages. Every operation returns a future so that
// outputs compose with asynchronous stages, even if they complete synchronously.
//
// An Output is driven by a single writer. Callers must call at most one of Finish and Abort.
type Output interface {
	Write(payload []byte) *future.Future
	Finish() *future.Future
	Abort() *future.Future
}
