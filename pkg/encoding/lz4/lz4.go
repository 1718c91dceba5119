package lz4

import (
	"io"
	"sync"

	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
	"google.golang.org/grpc/encoding"
)

const Name = "lz4"

func init() {
	encoding.RegisterCompressor(&compressor{})
}

// compressor lets gRPC transports use the same lz4 frames as spooled exchange files.
type compressor struct{}

func (c *compressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return NewWriter(w), nil
}

func (c *compressor) Decompress(r io.Reader) (io.Reader, error) {
	return NewReader(r), nil
}

func (c *compressor) Name() string {
	return Name
}

// ErrClosed is returned when writing to a closed writer.
var ErrClosed = errors.New("lz4: writer is closed")

// NewWriter returns an lz4 frame writer on w backed by a pooled encoder. Close flushes
// the frame trailer and releases the encoder, but it never closes w. Closing twice is a no-op.
func NewWriter(w io.Writer) io.WriteCloser {
	zw := writerPool.Get().(*lz4.Writer)
	zw.Reset(w)
	return &writer{zw: zw}
}

// NewReader returns an lz4 frame reader on r backed by a pooled decoder.
// The decoder is released once the reader reaches EOF.
func NewReader(r io.Reader) io.Reader {
	zr := readerPool.Get().(*lz4.Reader)
	zr.Reset(r)
	return &reader{zr: zr}
}

// writer is created per use, so a stale Close never reaches an encoder handed out again.
type writer struct {
	zw *lz4.Writer
}

func (w *writer) Write(p []byte) (int, error) {
	if w.zw == nil {
		return 0, ErrClosed
	}
	return w.zw.Write(p)
}

func (w *writer) Close() error {
	if w.zw == nil {
		return nil
	}
	zw := w.zw
	w.zw = nil
	err := zw.Close()
	zw.Reset(nil)
	writerPool.Put(zw)
	return err
}

type reader struct {
	zr *lz4.Reader
}

func (r *reader) Read(p []byte) (n int, err error) {
	if r.zr == nil {
		return 0, io.EOF
	}
	n, err = r.zr.Read(p)
	if err == io.EOF {
		zr := r.zr
		r.zr = nil
		zr.Reset(nil)
		readerPool.Put(zr)
	}
	return n, err
}

var (
	writerPool = sync.Pool{
		New: func() any {
			return lz4.NewWriter(nil)
		},
	}
	readerPool = sync.Pool{
		New: func() any {
			return lz4.NewReader(nil)
		},
	}
)
