package dataset

import (
	"context"
	"errors"
	"math/rand"
)

// PassOptions configures one pass over a ShardIndex.
type PassOptions struct {
	Shards ShardIndex
	// Seed fixes the shard order of the pass.
	Seed int64
	// Readers bounds the number of shards open at once.
	Readers    int
	PendingCap int
}

// StartPass streams every shard in opts.Shards exactly once. The visiting
// order interleaves roots and is shuffled per root by opts.Seed. Up to
// opts.Readers shards are open concurrently, but samples are emitted in
// visiting order so a seed always yields the same stream. The error channel
// receives at most one error; both channels are closed when the pass ends
// or ctx is cancelled.
func StartPass(ctx context.Context, opts PassOptions) (<-chan Sample, <-chan error, error) {
	if len(opts.Shards) == 0 {
		return nil, nil, errors.New("pass: no dataset roots provided")
	}
	if opts.Shards.Total() == 0 {
		return nil, nil, errors.New("pass: no shards discovered")
	}
	if opts.Readers <= 0 {
		opts.Readers = 1
	}
	if opts.PendingCap <= 0 {
		opts.PendingCap = defaultPendingCap
	}

	out := make(chan Sample, opts.Readers*2)
	errCh := make(chan error, 1)
	plan := planPass(opts.Shards, rand.New(rand.NewSource(opts.Seed)))

	go func() {
		defer close(out)
		defer close(errCh)
		if err := readInOrder(ctx, plan, opts.Readers, opts.PendingCap, out); err != nil {
			errCh <- err
		}
	}()
	return out, errCh, nil
}

// openShard is a shard whose reader goroutine has been started.
type openShard struct {
	path    string
	samples <-chan Sample
	errs    <-chan error
}

// readInOrder opens shards ahead of the consumer and forwards their samples
// shard by shard in plan order. At most readers shards are open at once: a
// slot is taken before a shard is opened and returned once it is drained.
func readInOrder(ctx context.Context, plan []string, readers, pendingCap int, out chan<- Sample) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	slots := make(chan struct{}, readers)
	opened := make(chan openShard, readers)
	go func() {
		defer close(opened)
		for _, path := range plan {
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return
			}
			samples, errs := StreamShard(ctx, path, pendingCap)
			opened <- openShard{path: path, samples: samples, errs: errs}
		}
	}()

	for shard := range opened {
		for sample := range shard.samples {
			select {
			case out <- sample:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := <-shard.errs; err != nil {
			return err
		}
		<-slots
	}
	return ctx.Err()
}

// planPass shuffles the shards of each root and interleaves the roots
// round-robin, visiting roots in sorted order.
func planPass(idx ShardIndex, rng *rand.Rand) []string {
	queues := make([][]string, 0, len(idx))
	for _, root := range idx.Roots() {
		queue := append([]string(nil), idx[root]...)
		rng.Shuffle(len(queue), func(i, j int) {
			queue[i], queue[j] = queue[j], queue[i]
		})
		queues = append(queues, queue)
	}

	plan := make([]string, 0, idx.Total())
	for len(plan) < cap(plan) {
		for i, queue := range queues {
			if len(queue) == 0 {
				continue
			}
			plan = append(plan, queue[0])
			queues[i] = queue[1:]
		}
	}
	return plan
}
