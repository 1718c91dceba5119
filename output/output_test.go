package output

import (
	"bytes"
	"io"

	"github.com/ab180/exchange/pkg/future"
)

// storageMock is a raw storage stream which keeps written bytes in memory.
type storageMock struct {
	buf bytes.Buffer

	WriteErr error
	CloseErr error

	Calls struct {
		Write int
		Close int
	}
}

func (s *storageMock) Write(p []byte) (int, error) {
	s.Calls.Write += 1
	if s.WriteErr != nil {
		return 0, s.WriteErr
	}
	return s.buf.Write(p)
}

func (s *storageMock) Close() error {
	s.Calls.Close += 1
	return s.CloseErr
}

func (s *storageMock) Bytes() []byte {
	return s.buf.Bytes()
}

func (s *storageMock) Reader() io.ReadCloser {
	return io.NopCloser(bytes.NewReader(s.buf.Bytes()))
}

type outputMock struct {
	Payloads [][]byte
	WriteErr error

	Calls struct {
		Write  int
		Finish int
		Abort  int
	}
}

func (o *outputMock) Write(payload []byte) *future.Future {
	o.Calls.Write += 1
	if o.WriteErr != nil {
		return future.Failed(o.WriteErr)
	}
	o.Payloads = append(o.Payloads, payload)
	return future.Completed()
}

func (o *outputMock) Finish() *future.Future {
	o.Calls.Finish += 1
	return future.Completed()
}

func (o *outputMock) Abort() *future.Future {
	o.Calls.Abort += 1
	return future.Completed()
}

var testKey = &KeyMaterial{
	Key: []byte("0123456789abcdef0123456789abcdef"),
	IV:  []byte("fedcba9876543210"),
}
