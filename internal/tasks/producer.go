package tasks

import (
	"context"
	"errors"
	"sync"
)

// ErrExhausted is returned by a Producer that has nothing more to give.
var ErrExhausted = errors.New("producer exhausted")

// Producer hands out batches of tasks on demand.
//
// Next returns ErrExhausted once it is done for good. An empty batch with a
// nil error means nothing is available right now.
type Producer interface {
	Next(ctx context.Context) ([]*Task, error)
}

// ProducerFunc adapts a function into a Producer.
type ProducerFunc func(ctx context.Context) ([]*Task, error)

func (f ProducerFunc) Next(ctx context.Context) ([]*Task, error) { return f(ctx) }

// Batches returns a producer that emits each batch once, in order, then
// ErrExhausted.
func Batches(batches ...[]*Task) Producer {
	var (
		mu sync.Mutex
		i  int
	)
	return ProducerFunc(func(ctx context.Context) ([]*Task, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mu.Lock()
		defer mu.Unlock()
		if i >= len(batches) {
			return nil, ErrExhausted
		}
		b := batches[i]
		i++
		return b, nil
	})
}

// Repeat emits n copies of batch, each with fresh task IDs.
func Repeat(n int, batch []*Task) Producer {
	out := make([][]*Task, n)
	for i := range out {
		copies := make([]*Task, len(batch))
		for j, t := range batch {
			copies[j] = t.Clone()
		}
		out[i] = copies
	}
	return Batches(out...)
}
