package vmm

import (
	"bytes"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4"
)

// CompressAlgorithm selects how swap slots are encoded.
type CompressAlgorithm uint16

const (
	CompNone CompressAlgorithm = iota // default
	CompSnappy
	CompLz4
)

func (c CompressAlgorithm) String() string {
	switch c {
	case CompNone:
		return "none"
	case CompSnappy:
		return "snappy"
	case CompLz4:
		return "lz4"
	}
	return "unknown"
}

// ParseCompressAlgorithm maps a config name to an algorithm.
func ParseCompressAlgorithm(name string) (CompressAlgorithm, bool) {
	switch name {
	case "", "none":
		return CompNone, true
	case "snappy":
		return CompSnappy, true
	case "lz4":
		return CompLz4, true
	}
	return CompNone, false
}

// A Compressor returning nil means the input could not be encoded.
type Compressor func([]byte) []byte
type DeCompressor func([]byte) ([]byte, error)

var (
	SnappyCompress Compressor = func(in []byte) []byte {
		return snappy.Encode(nil, in)
	}
	SnappyDeCompress DeCompressor = func(in []byte) ([]byte, error) {
		return snappy.Decode(nil, in)
	}
)

var (
	Lz4Compress Compressor = func(in []byte) []byte {
		buf := &bytes.Buffer{}
		writer := lz4.NewWriter(buf)
		writer.NoChecksum = true
		if _, err := writer.Write(in); err != nil {
			return nil
		}
		if err := writer.Close(); err != nil {
			return nil
		}
		return buf.Bytes()
	}

	Lz4DeCompress DeCompressor = func(in []byte) ([]byte, error) {
		buf := &bytes.Buffer{}
		reader := lz4.NewReader(bytes.NewReader(in))
		_, err := buf.ReadFrom(reader)
		return buf.Bytes(), err
	}
)

func codecFor(alg CompressAlgorithm) (Compressor, DeCompressor) {
	switch alg {
	case CompSnappy:
		return SnappyCompress, SnappyDeCompress
	case CompLz4:
		return Lz4Compress, Lz4DeCompress
	}
	return nil, nil
}
