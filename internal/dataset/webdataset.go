package dataset

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Sample represents a paired record from a WebDataset shard: an encoded
// image and its class label share a key.
type Sample struct {
	Key   string
	Image []byte
	Label int
}

var (
	// ErrPendingOverflow indicates the pairing map exceeded the configured bound.
	ErrPendingOverflow = errors.New("webdataset: pending pair buffer exceeded")
	// ErrIncompleteSamples indicates a shard ended with unpaired entries.
	ErrIncompleteSamples = errors.New("webdataset: shard has unpaired entries")
)

const defaultPendingCap = 1024

// StreamShard streams paired samples from the shard at path. The error
// channel receives at most one error and is closed with the sample channel.
func StreamShard(ctx context.Context, path string, pendingCap int) (<-chan Sample, <-chan error) {
	if pendingCap <= 0 {
		pendingCap = defaultPendingCap
	}
	out := make(chan Sample)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)
		if err := streamShard(ctx, path, pendingCap, out); err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

func streamShard(ctx context.Context, path string, pendingCap int, out chan<- Sample) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open shard: %w", err)
	}
	defer f.Close()

	tr := tar.NewReader(bufio.NewReader(f))
	p := pairer{pending: make(map[string]*partial), cap: pendingCap}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar %s: %w", path, err)
		}
		if hdr.FileInfo().IsDir() {
			continue
		}
		sample, ok, err := p.add(filepath.Base(hdr.Name), tr)
		if err != nil {
			return fmt.Errorf("shard %s: %w", path, err)
		}
		if !ok {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- sample:
		}
	}

	if n := len(p.pending); n > 0 {
		return fmt.Errorf("shard %s: %d samples: %w", path, n, ErrIncompleteSamples)
	}
	return nil
}

// pairer joins image and label entries that share a key.
type pairer struct {
	pending map[string]*partial
	cap     int
}

// add consumes one tar entry and reports a completed sample, if any.
func (p *pairer) add(name string, r io.Reader) (Sample, bool, error) {
	ext := strings.ToLower(filepath.Ext(name))
	key := strings.TrimSuffix(name, filepath.Ext(name))

	switch ext {
	case ".jpg", ".jpeg", ".png":
		data, err := io.ReadAll(r)
		if err != nil {
			return Sample{}, false, fmt.Errorf("read image %s: %w", name, err)
		}
		p.get(key).image = data
	case ".cls":
		payload, err := io.ReadAll(r)
		if err != nil {
			return Sample{}, false, fmt.Errorf("read label %s: %w", name, err)
		}
		label, err := strconv.Atoi(strings.TrimSpace(string(payload)))
		if err != nil {
			return Sample{}, false, fmt.Errorf("parse label %s: %w", name, err)
		}
		p.get(key).label = &label
	default:
		// ignore unknown extension
		return Sample{}, false, nil
	}

	if len(p.pending) > p.cap {
		return Sample{}, false, ErrPendingOverflow
	}
	part := p.pending[key]
	if !part.ready() {
		return Sample{}, false, nil
	}
	delete(p.pending, key)
	return Sample{Key: key, Image: part.image, Label: *part.label}, true, nil
}

func (p *pairer) get(key string) *partial {
	part := p.pending[key]
	if part == nil {
		part = &partial{}
		p.pending[key] = part
	}
	return part
}

type partial struct {
	image []byte
	label *int
}

func (p *partial) ready() bool {
	return len(p.image) > 0 && p.label != nil
}
