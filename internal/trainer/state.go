package trainer

// State is the trainer's position in its epoch state machine.
type State int

const (
	// Initializing: building batch sources, resetting best loss.
	Initializing State = iota
	// TrainingEpoch: forward/loss/backward/update over training batches.
	TrainingEpoch
	// ValidatingEpoch: forward/loss in inference mode, no updates.
	ValidatingEpoch
	// Checkpointing: persisting the model if validation improved.
	Checkpointing
	// Unfreezing: opening the encoder's top layers to gradients.
	Unfreezing
	// Completed: all epochs finished; best checkpoint is the deliverable.
	Completed
	// Failed: an unrecoverable error aborted the run.
	Failed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case TrainingEpoch:
		return "training_epoch"
	case ValidatingEpoch:
		return "validating_epoch"
	case Checkpointing:
		return "checkpointing"
	case Unfreezing:
		return "unfreezing"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}
