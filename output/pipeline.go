package output

import (
	"crypto/cipher"
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ErrConfiguration is returned when a pipeline cannot be built from given options,
// e.g. malformed key material or an unknown codec. It is not retryable.
var ErrConfiguration = errors.New("invalid pipeline configuration")

// Layout is the combination of layers a pipeline puts on a raw stream.
type Layout int

const (
	LayoutRaw Layout = iota
	LayoutCompressed
	LayoutEncrypted
	// LayoutCompressedEncrypted compresses written bytes first, then encrypts the compressed frames.
	LayoutCompressedEncrypted
)

func (l Layout) String() string {
	switch l {
	case LayoutRaw:
		return "raw"
	case LayoutCompressed:
		return "compressed"
	case LayoutEncrypted:
		return "encrypted"
	case LayoutCompressedEncrypted:
		return "compressed+encrypted"
	}
	return "unknown"
}

func layoutOf(compression, encryption bool) Layout {
	switch {
	case compression && encryption:
		return LayoutCompressedEncrypted
	case encryption:
		return LayoutEncrypted
	case compression:
		return LayoutCompressed
	default:
		return LayoutRaw
	}
}

// Pipeline assembles layered streams on raw storage streams.
//
// On the write side, the cipher wraps the raw stream and the compressor wraps the cipher,
// so that the compressor is the layer seen by the writer. A reader must undo them in the
// inverse order: decrypt the stored bytes first, then decompress.
type Pipeline struct {
	layout Layout
	codec  codec
	block  cipher.Block
	iv     []byte
}

// NewPipeline validates options and returns a Pipeline.
func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
	p := &Pipeline{
		layout: layoutOf(opts.Compression, opts.Encryption != nil),
	}
	if opts.Compression {
		c, ok := codecs[opts.Codec]
		if !ok {
			return nil, errors.Wrapf(ErrConfiguration, "unknown codec %q", opts.Codec)
		}
		p.codec = c
	}
	if opts.Encryption != nil {
		block, err := newBlock(opts.Encryption)
		if err != nil {
			return nil, err
		}
		p.block = block
		p.iv = append([]byte(nil), opts.Encryption.IV...)
	}
	return p, nil
}

func (p *Pipeline) Layout() Layout {
	return p.layout
}

// Wrap builds a write stream on raw. Closing the returned stream closes every layer
// from the outermost one, flushing the compression trailer and the cipher padding,
// and closes raw at last.
func (p *Pipeline) Wrap(raw io.WriteCloser) io.WriteCloser {
	switch p.layout {
	case LayoutCompressed:
		zw := p.codec.newWriter(raw)
		return &layers{Writer: zw, closers: []io.Closer{zw, raw}}

	case LayoutEncrypted:
		cw := newCBCWriter(raw, p.block, p.iv)
		return &layers{Writer: cw, closers: []io.Closer{cw, raw}}

	case LayoutCompressedEncrypted:
		cw := newCBCWriter(raw, p.block, p.iv)
		zw := p.codec.newWriter(cw)
		return &layers{Writer: zw, closers: []io.Closer{zw, cw, raw}}

	default:
		return raw
	}
}

// Unwrap builds a read stream on raw which reproduces bytes written to a stream from Wrap.
func (p *Pipeline) Unwrap(raw io.ReadCloser) io.ReadCloser {
	switch p.layout {
	case LayoutCompressed:
		return &readLayers{Reader: p.codec.newReader(raw), raw: raw}

	case LayoutEncrypted:
		return &readLayers{Reader: newCBCReader(raw, p.block, p.iv), raw: raw}

	case LayoutCompressedEncrypted:
		cr := newCBCReader(raw, p.block, p.iv)
		return &readLayers{Reader: p.codec.newReader(cr), raw: raw}

	default:
		return raw
	}
}

// layers is a stream built from nested writers. closers are ordered from the outermost.
type layers struct {
	io.Writer
	closers []io.Closer
}

func (l *layers) Close() error {
	var errs *multierror.Error
	for _, c := range l.closers {
		if err := c.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

type readLayers struct {
	io.Reader
	raw io.Closer
}

func (r *readLayers) Close() error {
	return r.raw.Close()
}
