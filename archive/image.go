package archive

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/meigma/arcext/internal/arctype"
)

// Compression identifies how an image body is compressed.
type Compression = arctype.Compression

// Re-export compression constants.
const (
	CompressionNone = arctype.CompressionNone
	CompressionZstd = arctype.CompressionZstd
	CompressionLZ4  = arctype.CompressionLZ4
)

const (
	imageMagic   = "ARCI"
	imageVersion = 1
	headerLen    = len(imageMagic) + 2
)

// ErrBadImage is returned when an image header or body cannot be decoded.
var ErrBadImage = errors.New("archive: invalid image")

// Images use Core Deterministic Encoding so identical tables always produce
// identical bytes.
var (
	imageEncMode cbor.EncMode
	imageDecMode cbor.DecMode
)

func init() {
	var err error
	imageEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("archive: CBOR encoder initialization failed: " + err.Error())
	}
	imageDecMode, err = cbor.DecOptions{
		MaxArrayElements: math.MaxInt32,
	}.DecMode()
	if err != nil {
		panic("archive: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodeImage writes t to w as an archive image. Resource buffers are not
// included; loaded slots keep their status, reference count, and digest for
// inspection. Call [Tables.ResetResources] before seeding from a decoded image.
//
// Images seed an Index with the host's tables and let tools inspect tables
// after extension.
func EncodeImage(w io.Writer, t Tables, c Compression) error {
	header := append([]byte(imageMagic), imageVersion, byte(c))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("archive: write image header: %w", err)
	}

	body, finish, err := compressor(w, c)
	if err != nil {
		return err
	}
	if err := imageEncMode.NewEncoder(body).Encode(t.Clone(false)); err != nil {
		return fmt.Errorf("archive: encode image: %w", err)
	}
	if err := finish(); err != nil {
		return fmt.Errorf("archive: finish image: %w", err)
	}
	return nil
}

// DecodeImage reads an archive image written by EncodeImage.
func DecodeImage(r io.Reader) (Tables, error) {
	br := bufio.NewReader(r)
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(br, header); err != nil {
		return Tables{}, fmt.Errorf("%w: short header: %w", ErrBadImage, err)
	}
	if string(header[:len(imageMagic)]) != imageMagic {
		return Tables{}, fmt.Errorf("%w: bad magic %q", ErrBadImage, header[:len(imageMagic)])
	}
	if v := header[len(imageMagic)]; v != imageVersion {
		return Tables{}, fmt.Errorf("%w: unsupported version %d", ErrBadImage, v)
	}

	body, release, err := decompressor(br, Compression(header[len(imageMagic)+1]))
	if err != nil {
		return Tables{}, err
	}
	defer release()

	var t Tables
	if err := imageDecMode.NewDecoder(body).Decode(&t); err != nil {
		return Tables{}, fmt.Errorf("%w: %w", ErrBadImage, err)
	}
	return t, nil
}

// compressor wraps w for c and returns a function that flushes the body.
func compressor(w io.Writer, c Compression) (io.Writer, func() error, error) {
	switch c {
	case CompressionNone:
		return w, func() error { return nil }, nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, nil, fmt.Errorf("archive: zstd writer: %w", err)
		}
		return enc, enc.Close, nil
	case CompressionLZ4:
		zw := lz4.NewWriter(w)
		return zw, zw.Close, nil
	default:
		return nil, nil, fmt.Errorf("archive: unsupported compression %s", c)
	}
}

// decompressor wraps r for c and returns a release function.
func decompressor(r io.Reader, c Compression) (io.Reader, func(), error) {
	switch c {
	case CompressionNone:
		return r, func() {}, nil
	case CompressionZstd:
		dec, release, err := imageDecoders.get(r)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: zstd reader: %w", ErrBadImage, err)
		}
		return dec, release, nil
	case CompressionLZ4:
		return lz4.NewReader(r), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown compression %d", ErrBadImage, c)
	}
}

// ParseCompression returns the Compression named by name ("none", "zstd",
// or "lz4").
func ParseCompression(name string) (Compression, error) {
	return arctype.ParseCompression(name)
}
