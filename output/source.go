package output

import "io"

// OpenSource opens a spooled stream written by a sink with the same options.
// The returned reader decrypts and decompresses the stored bytes in the inverse
// order of the write pipeline. Closing it closes raw.
func OpenSource(raw io.ReadCloser, opts PipelineOptions) (io.ReadCloser, error) {
	p, err := NewPipeline(opts)
	if err != nil {
		return nil, err
	}
	return p.Unwrap(raw), nil
}
