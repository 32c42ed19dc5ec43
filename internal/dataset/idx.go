package dataset

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	idxTypeUbyte = 0x08
	// maxIDXBytes bounds the payload a header may declare.
	maxIDXBytes = 1 << 30
)

// ErrIDXTooLarge is returned when an IDX header declares a payload larger
// than maxIDXBytes.
var ErrIDXTooLarge = errors.New("idx: declared payload too large")

// LoadIDX reads an IDX image file and its label file, as used by the MNIST
// family of datasets. Either file may be gzip compressed (".gz" suffix).
// Pixels are scaled to [-1, 1].
func LoadIDX(imagesPath, labelsPath string) ([]Example, error) {
	imgDims, pixels, err := readIDX(imagesPath)
	if err != nil {
		return nil, err
	}
	if len(imgDims) != 3 {
		return nil, fmt.Errorf("idx %s: want 3 dimensions, got %d", imagesPath, len(imgDims))
	}
	lblDims, labels, err := readIDX(labelsPath)
	if err != nil {
		return nil, err
	}
	if len(lblDims) != 1 {
		return nil, fmt.Errorf("idx %s: want 1 dimension, got %d", labelsPath, len(lblDims))
	}
	if imgDims[0] != lblDims[0] {
		return nil, fmt.Errorf("idx: %d images but %d labels", imgDims[0], lblDims[0])
	}

	size := imgDims[1] * imgDims[2]
	out := make([]Example, imgDims[0])
	for i := range out {
		features := make([]float64, size)
		for j, px := range pixels[i*size : (i+1)*size] {
			features[j] = (float64(px)/255 - 0.5) / 0.5
		}
		out[i] = Example{Features: features, Label: int(labels[i])}
	}
	return out, nil
}

// readIDX returns the dimensions and payload of an unsigned-byte IDX file.
// The payload size declared by the header is checked against maxIDXBytes
// and, for uncompressed files, against the file size before any of it is
// read.
func readIDX(path string) ([]int, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open idx: %w", err)
	}
	defer f.Close()

	compressed := strings.HasSuffix(path, ".gz")
	var r io.Reader = bufio.NewReader(f)
	if compressed {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("idx %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	var magic uint32
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return nil, nil, fmt.Errorf("idx %s: read magic: %w", path, err)
	}
	if magic>>16 != 0 || (magic>>8)&0xff != idxTypeUbyte {
		return nil, nil, fmt.Errorf("idx %s: bad magic %#08x", path, magic)
	}
	ndims := int(magic & 0xff)
	if ndims == 0 {
		return nil, nil, fmt.Errorf("idx %s: no dimensions", path)
	}
	raw := make([]uint32, ndims)
	if err := binary.Read(r, binary.BigEndian, raw); err != nil {
		return nil, nil, fmt.Errorf("idx %s: read dimensions: %w", path, err)
	}
	dims := make([]int, ndims)
	total := int64(1)
	for i, d := range raw {
		dims[i] = int(d)
		if d != 0 && total > maxIDXBytes/int64(d) {
			return nil, nil, fmt.Errorf("idx %s: dimensions %v: %w", path, raw, ErrIDXTooLarge)
		}
		total *= int64(d)
	}

	if !compressed {
		info, err := f.Stat()
		if err != nil {
			return nil, nil, fmt.Errorf("idx %s: %w", path, err)
		}
		header := int64(4 + 4*ndims)
		if avail := info.Size() - header; total > avail {
			return nil, nil, fmt.Errorf("idx %s: header declares %d bytes but %d remain: %w",
				path, total, avail, io.ErrUnexpectedEOF)
		}
	}

	// Grows with the bytes present, not the declared size.
	data, err := io.ReadAll(io.LimitReader(r, total))
	if err != nil {
		return nil, nil, fmt.Errorf("idx %s: read data: %w", path, err)
	}
	if int64(len(data)) != total {
		return nil, nil, fmt.Errorf("idx %s: read data: got %d of %d bytes: %w",
			path, len(data), total, io.ErrUnexpectedEOF)
	}
	return dims, data, nil
}
