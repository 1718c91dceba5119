package output

import (
	"io"
	"unsafe"

	"github.com/ab180/exchange/metric"
	"github.com/ab180/exchange/pkg/future"
	"github.com/airbloc/logger"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// ErrClosed is returned when writing to a sink which has been finished or aborted.
var ErrClosed = errors.New("sink is closed")

var sinkInstanceSize = uint64(unsafe.Sizeof(Sink{}))

var log = logger.New("exchange-sink")

// Sink writes pages of a single destination through a Pipeline to a raw storage stream.
// It is not safe for concurrent use.
type Sink struct {
	stream io.WriteCloser
	layout Layout
	closed bool
	err    error

	written atomic.Int64
}

// NewSink wraps raw with the pipeline. The sink owns raw from now on.
func NewSink(raw io.WriteCloser, p *Pipeline) *Sink {
	metric.OpenSinksGauge.Inc()
	return &Sink{
		stream: p.Wrap(raw),
		layout: p.Layout(),
	}
}

// OpenSink builds a pipeline from opts and wraps raw with it. On configuration errors
// raw is left untouched and the caller remains responsible for closing it.
func OpenSink(raw io.WriteCloser, opts PipelineOptions) (*Sink, error) {
	p, err := NewPipeline(opts)
	if err != nil {
		return nil, err
	}
	return NewSink(raw, p), nil
}

// Write appends the whole payload to the stream. After a failed write the sink is unusable.
func (s *Sink) Write(payload []byte) *future.Future {
	if s.closed {
		return future.Failed(ErrClosed)
	}
	if s.err != nil {
		return future.Failed(errors.Wrap(s.err, "sink has failed"))
	}
	n, err := s.stream.Write(payload)
	if err == nil && n < len(payload) {
		err = io.ErrShortWrite
	}
	if err != nil {
		s.err = err
		metric.SinkFailuresCounter.WithLabelValues(s.layout.String()).Inc()
		return future.Failed(errors.Wrap(err, "write payload"))
	}
	s.written.Add(int64(n))
	metric.SinkBytesCounter.WithLabelValues(s.layout.String()).Add(float64(n))
	return future.Completed()
}

// Finish closes the stream, flushing any compression trailer and cipher padding.
func (s *Sink) Finish() *future.Future {
	return s.close("finish")
}

// Abort closes the stream the same way as Finish. Already written bytes are kept;
// removing them from the storage is the caller's job.
func (s *Sink) Abort() *future.Future {
	return s.close("abort")
}

func (s *Sink) close(op string) *future.Future {
	if s.closed {
		return future.Failed(ErrClosed)
	}
	s.closed = true
	metric.OpenSinksGauge.Dec()

	if err := s.stream.Close(); err != nil {
		metric.SinkFailuresCounter.WithLabelValues(s.layout.String()).Inc()
		log.Warn("Failed to {} {} sink: {}", op, s.layout, err)
		return future.Failed(errors.Wrapf(err, "%s stream", op))
	}
	return future.Completed()
}

// RetainedSize is the memory footprint of the sink itself. Buffers of the
// underlying stream layers are not counted.
func (s *Sink) RetainedSize() uint64 {
	return sinkInstanceSize
}

// BytesWritten returns the number of payload bytes accepted, before compression.
func (s *Sink) BytesWritten() int64 {
	return s.written.Load()
}

func (s *Sink) Layout() Layout {
	return s.layout
}

// Sink implements output.Output interface.
var _ Output = (*Sink)(nil)
