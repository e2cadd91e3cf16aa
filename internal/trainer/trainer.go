// Package trainer drives the fine-tuning loop: epochs of contrastive
// training, validation, best-checkpoint selection, and the staged
// unfreezing of the encoder.
package trainer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/kotoba-ml/kotoba/internal/autodiff"
	"github.com/kotoba-ml/kotoba/internal/checkpoint"
	"github.com/kotoba-ml/kotoba/internal/dataset"
	"github.com/kotoba-ml/kotoba/internal/embedder"
	"github.com/kotoba-ml/kotoba/internal/nn"
	"github.com/kotoba-ml/kotoba/internal/optim"
	"github.com/kotoba-ml/kotoba/internal/tensor"
)

// UnfreezePolicy decides when and how much of the encoder opens up.
//
// After the epoch with index TriggerEpoch finishes, the last
// LastLayers encoder layers become trainable. The trigger fires at
// most once per run.
type UnfreezePolicy struct {
	TriggerEpoch int
	LastLayers   int
}

// Config holds the training hyperparameters.
type Config struct {
	Epochs        int
	BatchSize     int
	LearningRate  float32
	Temperature   float32 // 0 means the default no-op temperature of 1
	Unfreeze      UnfreezePolicy
	PrefetchDepth int // Batches assembled ahead of compute; minimum 1
}

// Result summarizes a completed run.
type Result struct {
	BestValidationLoss float64
	TrainLosses        []float64
	ValidationLosses   []float64
	EncoderFrozen      []bool // Frozen flag per epoch, recorded at epoch start
	CheckpointEpochs   []int  // Epochs whose validation loss set a new best
	CheckpointPath     string
}

// Trainer runs the fine-tuning loop over a SentenceEmbedder.
//
// Batches are processed strictly sequentially; exactly one gradient
// update is in flight at a time. The epoch boundary is a synchronous
// barrier, and cancellation is honored between epochs so the last
// good checkpoint is never corrupted.
type Trainer struct {
	model     *embedder.SentenceEmbedder
	loss      *nn.ContrastiveLoss
	optimizer optim.Optimizer
	backend   *autodiff.Backend
	store     *checkpoint.Store
	cfg       Config
	state     State
	logger    *slog.Logger
}

// New creates a Trainer over the given model and checkpoint store.
//
// The optimizer is constructed once over every model parameter.
// Frozen parameters never appear in the gradient map, so the same
// optimizer serves before and after unfreezing.
func New(model *embedder.SentenceEmbedder, store *checkpoint.Store, cfg Config, backend *autodiff.Backend) (*Trainer, error) {
	if cfg.Epochs <= 0 {
		return nil, fmt.Errorf("trainer: epochs must be positive, got %d", cfg.Epochs)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("trainer: batch size must be positive, got %d", cfg.BatchSize)
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 1
	}

	return &Trainer{
		model:     model,
		loss:      nn.NewContrastiveLoss(temperature, backend),
		optimizer: optim.NewAdam(model.Parameters(), optim.AdamConfig{LR: cfg.LearningRate}),
		backend:   backend,
		store:     store,
		cfg:       cfg,
		state:     Initializing,
		logger:    slog.Default().With("component", "trainer"),
	}, nil
}

// State returns the trainer's current state.
func (t *Trainer) State() State {
	return t.state
}

// Run executes the full training loop and returns the run summary.
//
// The best checkpoint on disk is the deliverable; it reflects the
// epoch with the lowest validation loss seen, under strict-improvement
// semantics (ties keep the earlier checkpoint).
func (t *Trainer) Run(ctx context.Context, trainPairs, valPairs []dataset.ContrastivePair) (*Result, error) {
	t.state = Initializing
	if len(trainPairs) == 0 {
		t.state = Failed
		return nil, fmt.Errorf("trainer: no training pairs")
	}
	if len(valPairs) == 0 {
		t.state = Failed
		return nil, fmt.Errorf("trainer: no validation pairs")
	}

	trainBatches := dataset.Batches(trainPairs, t.cfg.BatchSize)
	valBatches := dataset.Batches(valPairs, t.cfg.BatchSize)

	result := &Result{
		BestValidationLoss: math.Inf(1),
		CheckpointPath:     t.store.Path(),
	}
	frozen := true
	unfrozen := false

	for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			t.state = Failed
			return nil, fmt.Errorf("trainer: canceled before epoch %d: %w", epoch, err)
		}
		result.EncoderFrozen = append(result.EncoderFrozen, frozen)

		t.state = TrainingEpoch
		trainLoss, err := t.trainEpoch(ctx, trainBatches)
		if err != nil {
			t.state = Failed
			return nil, fmt.Errorf("trainer: epoch %d: %w", epoch, err)
		}
		result.TrainLosses = append(result.TrainLosses, trainLoss)

		t.state = ValidatingEpoch
		valLoss, err := t.validateEpoch(valBatches)
		if err != nil {
			t.state = Failed
			return nil, fmt.Errorf("trainer: epoch %d validation: %w", epoch, err)
		}
		result.ValidationLosses = append(result.ValidationLosses, valLoss)

		t.state = Checkpointing
		improved, err := t.maybeCheckpoint(epoch, valLoss, frozen, result)
		if err != nil {
			t.state = Failed
			return nil, fmt.Errorf("trainer: epoch %d checkpoint: %w", epoch, err)
		}

		t.logger.Info("epoch complete",
			"epoch", epoch,
			"train_loss", trainLoss,
			"val_loss", valLoss,
			"best_val_loss", result.BestValidationLoss,
			"checkpointed", improved,
			"encoder_frozen", frozen,
		)

		if !unfrozen && epoch == t.cfg.Unfreeze.TriggerEpoch {
			t.state = Unfreezing
			t.model.Unfreeze(t.cfg.Unfreeze.LastLayers)
			frozen = false
			unfrozen = true
			t.logger.Info("unfroze encoder layers", "last_layers", t.cfg.Unfreeze.LastLayers)
		}
	}

	t.state = Completed
	return result, nil
}

// maybeCheckpoint persists the model when valLoss strictly improves on
// the best seen so far. Ties keep the earlier checkpoint.
func (t *Trainer) maybeCheckpoint(epoch int, valLoss float64, frozen bool, result *Result) (bool, error) {
	if valLoss >= result.BestValidationLoss {
		return false, nil
	}
	result.BestValidationLoss = valLoss
	meta := checkpoint.Meta{
		Epoch: epoch,
		Loss:  valLoss,
		Metadata: map[string]string{
			"encoder_frozen": strconv.FormatBool(frozen),
		},
	}
	if err := t.store.Save(t.model.StateDict(), meta); err != nil {
		return false, err
	}
	result.CheckpointEpochs = append(result.CheckpointEpochs, epoch)
	return true, nil
}

// trainEpoch runs one pass over the training batches with gradient
// recording on and dropout active.
func (t *Trainer) trainEpoch(ctx context.Context, batches []dataset.Batch) (float64, error) {
	tape := t.backend.Tape()
	tape.StartRecording()
	defer func() {
		tape.StopRecording()
		tape.Clear()
	}()

	// An early return on a batch error must release the prefetch
	// producer, which may be parked on a send.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mean meanTracker
	for batch := range dataset.Prefetch(ctx, batches, t.cfg.PrefetchDepth) {
		tape.Clear()

		loss, err := t.batchLoss(batch, true)
		if err != nil {
			return 0, err
		}
		lossValue := float64(loss.AsFloat32()[0])
		if math.IsNaN(lossValue) || math.IsInf(lossValue, 0) {
			return 0, fmt.Errorf("non-finite loss %v", lossValue)
		}

		grads := tape.Backward(tensor.Ones(tensor.Shape{1}), t.backend)
		if err := t.checkGradients(grads); err != nil {
			return 0, err
		}
		t.optimizer.Step(grads)

		mean.add(lossValue)
	}
	return mean.value(), nil
}

// validateEpoch runs one pass over the validation batches in
// inference mode: no recording, no dropout, no updates.
func (t *Trainer) validateEpoch(batches []dataset.Batch) (float64, error) {
	tape := t.backend.Tape()
	wasRecording := tape.IsRecording()
	tape.StopRecording()
	defer func() {
		if wasRecording {
			tape.StartRecording()
		}
	}()

	var mean meanTracker
	for _, batch := range batches {
		loss, err := t.batchLoss(batch, false)
		if err != nil {
			return 0, err
		}
		mean.add(float64(loss.AsFloat32()[0]))
	}
	return mean.value(), nil
}

// batchLoss embeds both sides of a batch and scores them against the
// labels.
func (t *Trainer) batchLoss(batch dataset.Batch, training bool) (*tensor.RawTensor, error) {
	emb1, err := t.model.EmbedTexts(batch.Text1, training)
	if err != nil {
		return nil, fmt.Errorf("embedding text1: %w", err)
	}
	emb2, err := t.model.EmbedTexts(batch.Text2, training)
	if err != nil {
		return nil, fmt.Errorf("embedding text2: %w", err)
	}
	labels, err := tensor.FromSlice(batch.Labels, tensor.Shape{batch.Size()})
	if err != nil {
		return nil, fmt.Errorf("building label tensor: %w", err)
	}
	return t.loss.Forward(emb1, emb2, labels), nil
}

// checkGradients verifies the projection head received gradients.
//
// The projection head is trainable for the whole run, so a missing
// gradient there means the computation graph is disconnected. That is
// fatal: silently skipping updates would corrupt the staged
// unfreezing contract.
func (t *Trainer) checkGradients(grads map[*tensor.RawTensor]*tensor.RawTensor) error {
	for _, p := range t.model.ProjectionParameters() {
		if grads[p.Tensor()] == nil {
			return fmt.Errorf("no gradient for projection parameter %s", p.Name())
		}
	}
	return nil
}
