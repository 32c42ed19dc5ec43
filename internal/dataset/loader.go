package dataset

import (
	"context"
	"errors"
	"io"
	"math/rand"

	"holdout-forge/internal/model"
)

// Iterator yields the batches of one pass over a dataset. Next returns
// io.EOF after the last batch.
type Iterator interface {
	Next() (model.Batch, error)
	Close() error
}

// Loader starts a new finite pass over a dataset on every Iterate call.
// Loaders that shuffle draw a new order per pass.
type Loader interface {
	Iterate(ctx context.Context) (Iterator, error)
}

// Example is one labelled feature vector.
type Example struct {
	Features []float64
	Label    int
}

// MemoryLoader batches an in-memory slice of examples.
type MemoryLoader struct {
	examples  []Example
	batchSize int
	shuffle   bool
	rng       *rand.Rand
}

// NewMemoryLoader returns a loader over examples. The last batch of a pass
// may be smaller than batchSize.
func NewMemoryLoader(examples []Example, batchSize int, shuffle bool, seed int64) (*MemoryLoader, error) {
	if batchSize <= 0 {
		return nil, errors.New("dataset: batch size must be > 0")
	}
	return &MemoryLoader{
		examples:  examples,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
	}, nil
}

// Len returns the number of examples.
func (l *MemoryLoader) Len() int { return len(l.examples) }

// NumBatches returns the number of batches per pass.
func (l *MemoryLoader) NumBatches() int {
	return (len(l.examples) + l.batchSize - 1) / l.batchSize
}

// Iterate starts a pass, reshuffling first when the loader shuffles.
func (l *MemoryLoader) Iterate(ctx context.Context) (Iterator, error) {
	var order []int
	if l.shuffle {
		order = l.rng.Perm(len(l.examples))
	} else {
		order = make([]int, len(l.examples))
		for i := range order {
			order[i] = i
		}
	}
	return &memoryIterator{ctx: ctx, examples: l.examples, order: order, batchSize: l.batchSize}, nil
}

type memoryIterator struct {
	ctx       context.Context
	examples  []Example
	order     []int
	batchSize int
	pos       int
}

func (it *memoryIterator) Next() (model.Batch, error) {
	if err := it.ctx.Err(); err != nil {
		return model.Batch{}, err
	}
	if it.pos >= len(it.order) {
		return model.Batch{}, io.EOF
	}
	end := it.pos + it.batchSize
	if end > len(it.order) {
		end = len(it.order)
	}
	batch := model.Batch{
		Inputs: make([][]float64, 0, end-it.pos),
		Labels: make([]int, 0, end-it.pos),
	}
	for _, idx := range it.order[it.pos:end] {
		ex := it.examples[idx]
		batch.Inputs = append(batch.Inputs, ex.Features)
		batch.Labels = append(batch.Labels, ex.Label)
	}
	it.pos = end
	return batch, nil
}

func (it *memoryIterator) Close() error { return nil }

// Split shuffles examples with seed and divides them into a training part
// and a held-out part holding validFrac of the examples.
func Split(examples []Example, validFrac float64, seed int64) (train, valid []Example) {
	shuffled := append([]Example(nil), examples...)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	n := int(float64(len(shuffled)) * validFrac)
	return shuffled[n:], shuffled[:n]
}
