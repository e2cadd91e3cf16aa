// Package dataset holds labeled sentence pairs and their on-disk CSV
// form, and slices them into the batches the trainer consumes.
package dataset

import "context"

// ContrastivePair is one supervised example: two texts and a label
// saying whether they belong together.
//
// Label 1 pulls the pair together in embedding space, label 0 pushes
// it apart.
type ContrastivePair struct {
	Text1 string
	Text2 string
	Label float32
}

// Batch groups pairs column-wise for a single training step.
type Batch struct {
	Text1  []string
	Text2  []string
	Labels []float32
}

// Size returns the number of pairs in the batch.
func (b Batch) Size() int {
	return len(b.Labels)
}

// Batches slices pairs into consecutive batches of batchSize. The
// last batch may be smaller. Order is preserved.
func Batches(pairs []ContrastivePair, batchSize int) []Batch {
	if batchSize <= 0 || len(pairs) == 0 {
		return nil
	}

	batches := make([]Batch, 0, (len(pairs)+batchSize-1)/batchSize)
	for start := 0; start < len(pairs); start += batchSize {
		end := min(start+batchSize, len(pairs))
		batch := Batch{
			Text1:  make([]string, 0, end-start),
			Text2:  make([]string, 0, end-start),
			Labels: make([]float32, 0, end-start),
		}
		for _, p := range pairs[start:end] {
			batch.Text1 = append(batch.Text1, p.Text1)
			batch.Text2 = append(batch.Text2, p.Text2)
			batch.Labels = append(batch.Labels, p.Label)
		}
		batches = append(batches, batch)
	}
	return batches
}

// Prefetch feeds batches through a buffered channel so batch assembly
// can run ahead of computation. Order is preserved; depth bounds how
// far ahead the producer may run. A depth below 1 is treated as 1.
//
// Canceling ctx stops the producer even when the consumer has stopped
// draining the channel, so a caller abandoning the loop mid-epoch does
// not strand the goroutine on a blocked send.
func Prefetch(ctx context.Context, batches []Batch, depth int) <-chan Batch {
	if depth < 1 {
		depth = 1
	}
	out := make(chan Batch, depth)
	go func() {
		defer close(out)
		for _, b := range batches {
			select {
			case out <- b:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
