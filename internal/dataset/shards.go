package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"

	"holdout-forge/internal/model"
)

// ShardOptions configures a ShardLoader.
type ShardOptions struct {
	Roots      []string
	BatchSize  int
	NumWorkers int
	Seed       int64
	// Grid is the side of the square intensity grid sampled from each image.
	Grid int
}

// ShardLoader batches WebDataset tar shards found under one or more roots.
// Each pass visits every shard once, in an order reshuffled per pass.
type ShardLoader struct {
	opts   ShardOptions
	shards ShardIndex
	passes int64
}

// NewShardLoader discovers the shards under opts.Roots.
func NewShardLoader(opts ShardOptions) (*ShardLoader, error) {
	if opts.BatchSize <= 0 {
		return nil, errors.New("dataset: batch size must be > 0")
	}
	if opts.Grid <= 0 {
		return nil, errors.New("dataset: feature grid must be > 0")
	}
	shards, err := IndexShards(opts.Roots)
	if err != nil {
		return nil, err
	}
	return &ShardLoader{opts: opts, shards: shards}, nil
}

// Shards returns the number of shards per root.
func (l *ShardLoader) Shards() map[string]int {
	counts := make(map[string]int, len(l.shards))
	for root, shards := range l.shards {
		counts[root] = len(shards)
	}
	return counts
}

// Iterate starts one pass over all shards, reseeding the shard order.
func (l *ShardLoader) Iterate(ctx context.Context) (Iterator, error) {
	l.passes++
	ctx, cancel := context.WithCancel(ctx)
	samples, errs, err := StartPass(ctx, PassOptions{
		Shards:  l.shards,
		Seed:    l.opts.Seed + l.passes,
		Readers: l.opts.NumWorkers,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	return &shardIterator{
		ctx:       ctx,
		cancel:    cancel,
		samples:   samples,
		errs:      errs,
		batchSize: l.opts.BatchSize,
		grid:      l.opts.Grid,
	}, nil
}

type shardIterator struct {
	ctx       context.Context
	cancel    context.CancelFunc
	samples   <-chan Sample
	errs      <-chan error
	batchSize int
	grid      int
	done      bool
}

// Next returns the next batch. After Close it returns context.Canceled.
func (it *shardIterator) Next() (model.Batch, error) {
	if err := it.ctx.Err(); err != nil {
		return model.Batch{}, err
	}
	if it.done {
		return model.Batch{}, io.EOF
	}
	inputs := make([][]float64, 0, it.batchSize)
	labels := make([]int, 0, it.batchSize)
	for len(inputs) < it.batchSize {
		select {
		case <-it.ctx.Done():
			return model.Batch{}, it.ctx.Err()
		case err, ok := <-it.errs:
			if !ok {
				it.errs = nil
				continue
			}
			if err != nil {
				return model.Batch{}, err
			}
		case sample, ok := <-it.samples:
			if !ok {
				it.done = true
				if it.errs != nil {
					if err := <-it.errs; err != nil {
						return model.Batch{}, err
					}
				}
				if len(inputs) == 0 {
					return model.Batch{}, io.EOF
				}
				return model.Batch{Inputs: inputs, Labels: labels}, nil
			}
			features, err := ExtractFeatures(sample.Image, it.grid)
			if err != nil {
				return model.Batch{}, fmt.Errorf("sample %s: %w", sample.Key, err)
			}
			inputs = append(inputs, features)
			labels = append(labels, sample.Label)
		}
	}
	return model.Batch{Inputs: inputs, Labels: labels}, nil
}

// Close stops the pass and releases its shard readers. It is safe to call
// more than once.
func (it *shardIterator) Close() error {
	it.cancel()
	return nil
}
