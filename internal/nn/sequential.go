package nn

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kotoba-ml/kotoba/internal/tensor"
)

// Sequential is a container that chains modules in order.
//
// The output of each module becomes the input of the next:
//
//	head := nn.NewSequential(
//	    nn.NewLinear(768, 512, backend, rng),
//	    nn.NewReLU(backend),
//	    nn.NewDropout(0.1, backend, rng),
//	    nn.NewLinear(512, 384, backend, rng),
//	    nn.NewLayerNorm(384, 1e-5, backend),
//	)
type Sequential struct {
	modules []Module
}

// NewSequential creates a Sequential container from the given modules.
func NewSequential(modules ...Module) *Sequential {
	return &Sequential{modules: modules}
}

// Forward passes the input through each module in order.
func (s *Sequential) Forward(input *tensor.RawTensor) *tensor.RawTensor {
	output := input
	for _, m := range s.modules {
		output = m.Forward(output)
	}
	return output
}

// Parameters returns the parameters of all contained modules.
func (s *Sequential) Parameters() []*Parameter {
	var params []*Parameter
	for _, m := range s.modules {
		params = append(params, m.Parameters()...)
	}
	return params
}

// Modules returns the contained modules in order.
func (s *Sequential) Modules() []Module {
	return s.modules
}

// SetTraining propagates the training flag to all contained modules
// that distinguish training from inference.
func (s *Sequential) SetTraining(training bool) {
	for _, m := range s.modules {
		if tm, ok := m.(TrainableModule); ok {
			tm.SetTraining(training)
		}
	}
}

// StateDict returns the state of all stateful submodules, with keys
// prefixed by the module's index ("0.weight", "4.gamma", ...).
func (s *Sequential) StateDict() map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor)
	for i, m := range s.modules {
		sm, ok := m.(StatefulModule)
		if !ok {
			continue
		}
		for name, t := range sm.StateDict() {
			stateDict[strconv.Itoa(i)+"."+name] = t
		}
	}
	return stateDict
}

// LoadStateDict distributes prefixed entries back to the stateful
// submodules by index.
func (s *Sequential) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	for i, m := range s.modules {
		sm, ok := m.(StatefulModule)
		if !ok {
			continue
		}
		prefix := strconv.Itoa(i) + "."
		sub := make(map[string]*tensor.RawTensor)
		for name, t := range stateDict {
			if strings.HasPrefix(name, prefix) {
				sub[strings.TrimPrefix(name, prefix)] = t
			}
		}
		if err := sm.LoadStateDict(sub); err != nil {
			return fmt.Errorf("sequential module %d: %w", i, err)
		}
	}
	return nil
}
