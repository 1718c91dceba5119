package output

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"io"

	"github.com/pkg/errors"
)

// ErrCorrupted is returned when an encrypted spool is truncated or has invalid padding.
var ErrCorrupted = errors.New("corrupted ciphertext")

const readChunkSize = 32 * 1024

func newBlock(km *KeyMaterial) (cipher.Block, error) {
	block, err := aes.NewCipher(km.Key)
	if err != nil {
		return nil, errors.Wrapf(ErrConfiguration, "invalid key: %v", err)
	}
	if len(km.IV) != block.BlockSize() {
		return nil, errors.Wrapf(ErrConfiguration, "IV must be %d bytes, got %d", block.BlockSize(), len(km.IV))
	}
	return block, nil
}

// cbcWriter encrypts bytes in AES-CBC with PKCS#7 padding. Full blocks are written
// as soon as they're available; the padded last block is written on Close.
// Close doesn't close the underlying writer.
type cbcWriter struct {
	w       io.Writer
	mode    cipher.BlockMode
	pending []byte
	out     []byte
	closed  bool
}

func newCBCWriter(w io.Writer, block cipher.Block, iv []byte) *cbcWriter {
	return &cbcWriter{
		w:       w,
		mode:    cipher.NewCBCEncrypter(block, iv),
		pending: make([]byte, 0, block.BlockSize()),
	}
}

func (c *cbcWriter) Write(p []byte) (int, error) {
	if c.closed {
		return 0, ErrClosed
	}
	bs := c.mode.BlockSize()
	total := len(c.pending) + len(p)
	full := total - total%bs
	if full == 0 {
		c.pending = append(c.pending, p...)
		return len(p), nil
	}
	if cap(c.out) < full {
		c.out = make([]byte, full)
	}
	out := c.out[:full]
	n := copy(out, c.pending)
	consumed := copy(out[n:], p)
	c.mode.CryptBlocks(out, out)
	if _, err := c.w.Write(out); err != nil {
		return 0, err
	}
	c.pending = append(c.pending[:0], p[consumed:]...)
	return len(p), nil
}

func (c *cbcWriter) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	bs := c.mode.BlockSize()
	padLen := bs - len(c.pending)%bs
	last := append(c.pending, bytes.Repeat([]byte{byte(padLen)}, padLen)...)
	c.mode.CryptBlocks(last, last)
	_, err := c.w.Write(last)
	return err
}

// cbcReader is the inverse of cbcWriter. The last decrypted block is held back
// until EOF so that the padding can be stripped.
type cbcReader struct {
	r     io.Reader
	mode  cipher.BlockMode
	in    []byte
	held  []byte
	plain []byte
	eof   bool
	chunk []byte
}

func newCBCReader(r io.Reader, block cipher.Block, iv []byte) *cbcReader {
	return &cbcReader{
		r:     r,
		mode:  cipher.NewCBCDecrypter(block, iv),
		chunk: make([]byte, readChunkSize),
	}
}

func (c *cbcReader) Read(p []byte) (int, error) {
	for len(c.plain) == 0 {
		if c.eof {
			return 0, io.EOF
		}
		if err := c.fill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, c.plain)
	c.plain = c.plain[n:]
	return n, nil
}

func (c *cbcReader) fill() error {
	n, err := c.r.Read(c.chunk)
	c.in = append(c.in, c.chunk[:n]...)
	if err != nil && err != io.EOF {
		return err
	}
	bs := c.mode.BlockSize()
	if err == io.EOF {
		c.eof = true
		if len(c.in)%bs != 0 {
			return errors.Wrap(ErrCorrupted, "truncated block")
		}
		decrypted := append(c.held, c.decrypt(len(c.in))...)
		c.held = nil
		if len(decrypted) == 0 {
			return errors.Wrap(ErrCorrupted, "missing padding block")
		}
		padLen := int(decrypted[len(decrypted)-1])
		if padLen == 0 || padLen > bs {
			return errors.Wrap(ErrCorrupted, "invalid padding")
		}
		for _, b := range decrypted[len(decrypted)-padLen:] {
			if int(b) != padLen {
				return errors.Wrap(ErrCorrupted, "invalid padding")
			}
		}
		c.plain = decrypted[:len(decrypted)-padLen]
		return nil
	}

	full := len(c.in) - len(c.in)%bs
	if full == 0 {
		return nil
	}
	decrypted := append(c.held, c.decrypt(full)...)
	c.held = append([]byte(nil), decrypted[len(decrypted)-bs:]...)
	c.plain = decrypted[:len(decrypted)-bs]
	return nil
}

func (c *cbcReader) decrypt(size int) []byte {
	out := make([]byte, size)
	c.mode.CryptBlocks(out, c.in[:size])
	c.in = append(c.in[:0], c.in[size:]...)
	return out
}
