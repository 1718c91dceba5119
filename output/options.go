package output

import (
	"github.com/creasty/defaults"
)

// Codec is a frame format used for compressing spooled pages.
type Codec string

const (
	CodecLZ4    Codec = "lz4"
	CodecSnappy Codec = "snappy"
)

// KeyMaterial is a pre-validated symmetric key used for encrypting spooled pages.
// Key is an AES-128, 192 or 256 key, and IV is the initialization vector of the CBC mode.
type KeyMaterial struct {
	Key []byte
	IV  []byte
}

type PipelineOptions struct {
	Compression bool  `default:"false"`
	Codec       Codec `default:"lz4"`

	// Encryption enables encryption when it's not nil.
	Encryption *KeyMaterial `default:"-"`
}

func DefaultPipelineOptions() (o PipelineOptions) {
	if err := defaults.Set(&o); err != nil {
		panic(err)
	}
	return
}
