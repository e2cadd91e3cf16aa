package tokenizer

import (
	"fmt"

	"github.com/kotoba-ml/kotoba/internal/tensor"
)

// Batch holds tokenized texts ready for the encoder.
//
// IDs are Int32 token IDs with shape [batch, seq_len]; Mask is a
// Float32 attention mask of the same shape with 1 at real token
// positions and 0 at padding.
type Batch struct {
	IDs  *tensor.RawTensor
	Mask *tensor.RawTensor
}

// EncodeBatch tokenizes texts into a padded batch.
//
// Each text is truncated to maxLen tokens and the batch is padded to
// the longest remaining sequence. Texts that tokenize to nothing
// occupy a single padding position so every row has at least one
// token slot; their mask row is all zeros and pooling falls back to
// the epsilon-guarded denominator.
func EncodeBatch(tok Tokenizer, texts []string, maxLen int) (*Batch, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("tokenizer: empty batch")
	}
	if maxLen <= 0 {
		return nil, fmt.Errorf("tokenizer: maxLen must be positive, got %d", maxLen)
	}

	encoded := make([][]int32, len(texts))
	seqLen := 1
	for i, text := range texts {
		ids, err := tok.Encode(text)
		if err != nil {
			return nil, fmt.Errorf("tokenizer: encoding text %d: %w", i, err)
		}
		if len(ids) > maxLen {
			ids = ids[:maxLen]
		}
		encoded[i] = ids
		if len(ids) > seqLen {
			seqLen = len(ids)
		}
	}

	batch := len(texts)
	pad := tok.PadToken()
	idsData := make([]int32, batch*seqLen)
	maskData := make([]float32, batch*seqLen)
	for i, ids := range encoded {
		row := i * seqLen
		for j := 0; j < seqLen; j++ {
			if j < len(ids) {
				idsData[row+j] = ids[j]
				maskData[row+j] = 1
			} else {
				idsData[row+j] = pad
			}
		}
	}

	shape := tensor.Shape{batch, seqLen}
	idsTensor, err := tensor.FromInt32Slice(idsData, shape.Clone())
	if err != nil {
		return nil, fmt.Errorf("tokenizer: building id tensor: %w", err)
	}
	maskTensor, err := tensor.FromSlice(maskData, shape.Clone())
	if err != nil {
		return nil, fmt.Errorf("tokenizer: building mask tensor: %w", err)
	}

	return &Batch{IDs: idsTensor, Mask: maskTensor}, nil
}
