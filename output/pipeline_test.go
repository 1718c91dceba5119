package output

import (
	"bytes"
	"io"
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/require"
)

func TestNewPipeline(t *testing.T) {
	Convey("Building a pipeline", t, func() {
		Convey("With default options", func() {
			p, err := NewPipeline(DefaultPipelineOptions())
			So(err, ShouldBeNil)

			Convey("It should not add any layer", func() {
				So(p.Layout(), ShouldEqual, LayoutRaw)
			})
		})

		Convey("With every combination of flags", func() {
			cases := []struct {
				opts   PipelineOptions
				layout Layout
			}{
				{PipelineOptions{}, LayoutRaw},
				{PipelineOptions{Compression: true, Codec: CodecLZ4}, LayoutCompressed},
				{PipelineOptions{Encryption: testKey}, LayoutEncrypted},
				{PipelineOptions{Compression: true, Codec: CodecSnappy, Encryption: testKey}, LayoutCompressedEncrypted},
			}
			for _, c := range cases {
				p, err := NewPipeline(c.opts)
				So(err, ShouldBeNil)
				So(p.Layout(), ShouldEqual, c.layout)
			}
		})

		Convey("With a malformed key", func() {
			_, err := NewPipeline(PipelineOptions{Encryption: &KeyMaterial{Key: []byte("short"), IV: testKey.IV}})

			Convey("It should fail with a configuration error", func() {
				So(errors.Is(err, ErrConfiguration), ShouldBeTrue)
			})
		})

		Convey("With an IV of wrong size", func() {
			_, err := NewPipeline(PipelineOptions{Encryption: &KeyMaterial{Key: testKey.Key, IV: []byte("iv")}})

			Convey("It should fail with a configuration error", func() {
				So(errors.Is(err, ErrConfiguration), ShouldBeTrue)
			})
		})

		Convey("With an unknown codec", func() {
			_, err := NewPipeline(PipelineOptions{Compression: true, Codec: "zstd"})

			Convey("It should fail with a configuration error", func() {
				So(errors.Is(err, ErrConfiguration), ShouldBeTrue)
			})
		})
	})
}

func TestPipeline_RoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte("abc"),
		bytes.Repeat([]byte("page;"), 4096),
		{},
		[]byte("0123456789abcdef"),
	}
	var expected []byte
	for _, p := range payloads {
		expected = append(expected, p...)
	}

	for _, codec := range []Codec{CodecLZ4, CodecSnappy} {
		for _, compression := range []bool{false, true} {
			for _, key := range []*KeyMaterial{nil, testKey} {
				opts := PipelineOptions{Compression: compression, Codec: codec, Encryption: key}
				p, err := NewPipeline(opts)
				require.NoError(t, err)

				t.Run(string(codec)+"/"+p.Layout().String(), func(t *testing.T) {
					raw := &storageMock{}
					w := p.Wrap(raw)
					for _, payload := range payloads {
						n, err := w.Write(payload)
						require.NoError(t, err)
						require.Equal(t, len(payload), n)
					}
					require.NoError(t, w.Close())
					require.Equal(t, 1, raw.Calls.Close)

					r := p.Unwrap(raw.Reader())
					decoded, err := io.ReadAll(r)
					require.NoError(t, err)
					require.NoError(t, r.Close())
					require.Equal(t, expected, decoded)
				})
			}
		}
	}
}

func TestPipeline_LayerOrder(t *testing.T) {
	payload := bytes.Repeat([]byte("the quick brown fox "), 200)
	opts := PipelineOptions{Compression: true, Codec: CodecLZ4, Encryption: testKey}

	raw := &storageMock{}
	sink, err := OpenSink(raw, opts)
	require.NoError(t, err)
	require.NoError(t, sink.Write(payload).Get())
	require.NoError(t, sink.Finish().Get())

	t.Run("decrypting stored bytes yields a compressed frame", func(t *testing.T) {
		block, err := newBlock(testKey)
		require.NoError(t, err)
		compressed, err := io.ReadAll(newCBCReader(bytes.NewReader(raw.Bytes()), block, testKey.IV))
		require.NoError(t, err)

		// lz4 frame magic number, little endian
		require.Equal(t, []byte{0x04, 0x22, 0x4d, 0x18}, compressed[:4])
		require.Less(t, len(compressed), len(payload))

		decoded, err := io.ReadAll(codecs[CodecLZ4].newReader(bytes.NewReader(compressed)))
		require.NoError(t, err)
		require.Equal(t, payload, decoded)
	})

	t.Run("decompressing before decrypting does not reproduce the payload", func(t *testing.T) {
		block, err := newBlock(testKey)
		require.NoError(t, err)

		decompressed, err := io.ReadAll(codecs[CodecLZ4].newReader(bytes.NewReader(raw.Bytes())))
		if err == nil {
			decoded, err := io.ReadAll(newCBCReader(bytes.NewReader(decompressed), block, testKey.IV))
			if err == nil {
				require.NotEqual(t, payload, decoded)
			}
		}
	})

	t.Run("reading in the construction order reproduces the payload", func(t *testing.T) {
		r, err := OpenSource(raw.Reader(), opts)
		require.NoError(t, err)
		decoded, err := io.ReadAll(r)
		require.NoError(t, err)
		require.Equal(t, payload, decoded)
	})
}
