package output

import (
	"io"

	"github.com/pkg/errors"
)

// Opener opens a raw storage stream.
type Opener func() (io.WriteCloser, error)

type lazyOpened struct {
	openFn Opener
	stream io.WriteCloser
}

// LazyOpened wraps a raw storage stream which is opened as first data is written on it.
// It can be effectively used when many destinations are known but only a few receive data.
// Closing a stream which has never been written opens it first, so the storage object always exists.
func LazyOpened(openFn Opener) io.WriteCloser {
	return &lazyOpened{openFn: openFn}
}

func (l *lazyOpened) open() error {
	if l.stream != nil {
		return nil
	}
	s, err := l.openFn()
	if err != nil {
		return errors.Wrap(err, "open stream")
	}
	l.stream = s
	return nil
}

func (l *lazyOpened) Write(p []byte) (int, error) {
	if err := l.open(); err != nil {
		return 0, err
	}
	return l.stream.Write(p)
}

func (l *lazyOpened) Close() error {
	if err := l.open(); err != nil {
		return err
	}
	return l.stream.Close()
}
