package output

import (
	"github.com/ab180/exchange/pkg/future"
	"github.com/hashicorp/go-multierror"
)

// ComposedOutput writes the same payload to several outputs, e.g. to every buffer of a broadcast.
type ComposedOutput struct {
	outputs []Output
}

func NewComposed(outputs ...Output) Output {
	return &ComposedOutput{outputs}
}

// Write stops at the first failed output.
func (c *ComposedOutput) Write(payload []byte) *future.Future {
	for _, o := range c.outputs {
		if err := o.Write(payload).Get(); err != nil {
			return future.Failed(err)
		}
	}
	return future.Completed()
}

// Finish finishes every output, even if some of them fail.
func (c *ComposedOutput) Finish() *future.Future {
	return c.each(Output.Finish)
}

// Abort aborts every output, even if some of them fail.
func (c *ComposedOutput) Abort() *future.Future {
	return c.each(Output.Abort)
}

func (c *ComposedOutput) each(fn func(Output) *future.Future) *future.Future {
	var errs *multierror.Error
	for _, o := range c.outputs {
		if err := fn(o).Get(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return future.Failed(err)
	}
	return future.Completed()
}
