package output

import (
	"io"

	"github.com/ab180/exchange/pkg/encoding/lz4"
	"github.com/klauspost/compress/snappy"
)

type codec interface {
	newWriter(w io.Writer) io.WriteCloser
	newReader(r io.Reader) io.Reader
}

var codecs = map[Codec]codec{
	CodecLZ4:    lz4Codec{},
	CodecSnappy: snappyCodec{},
}

type lz4Codec struct{}

func (lz4Codec) newWriter(w io.Writer) io.WriteCloser {
	return lz4.NewWriter(w)
}

func (lz4Codec) newReader(r io.Reader) io.Reader {
	return lz4.NewReader(r)
}

// snappyCodec writes the snappy framing format.
type snappyCodec struct{}

func (snappyCodec) newWriter(w io.Writer) io.WriteCloser {
	return snappy.NewBufferedWriter(w)
}

func (snappyCodec) newReader(r io.Reader) io.Reader {
	return snappy.NewReader(r)
}
