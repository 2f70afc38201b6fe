package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Activation functions supported by DenseLayer.
const (
	ActivationLinear  = "linear"
	ActivationReLU    = "relu"
	ActivationSigmoid = "sigmoid"
	ActivationTanh    = "tanh"
	ActivationSoftmax = "softmax"
)

// DenseLayer is a fully connected layer. Weights has shape [inputs][outputs].
type DenseLayer struct {
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
	Activation string      `json:"activation"`
}

// MLP is a feed-forward network exported from the training notebook as JSON.
type MLP struct {
	Version string       `json:"version"`
	Layers  []DenseLayer `json:"layers"`
}

// LoadMLP reads and validates an MLP weights file.
func LoadMLP(path string) (*MLP, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}

	var m MLP
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks layer shapes chain together and activations are known.
func (m *MLP) Validate() error {
	if len(m.Layers) == 0 {
		return fmt.Errorf("%w: model has no layers", ErrSchemaMismatch)
	}
	prev := -1
	for i, l := range m.Layers {
		if len(l.Weights) == 0 {
			return fmt.Errorf("%w: layer %d has no weights", ErrSchemaMismatch, i)
		}
		if prev != -1 && len(l.Weights) != prev {
			return fmt.Errorf("%w: layer %d expects %d inputs, previous layer produces %d",
				ErrSchemaMismatch, i, len(l.Weights), prev)
		}
		out := len(l.Bias)
		for _, row := range l.Weights {
			if len(row) != out {
				return fmt.Errorf("%w: layer %d weight row has %d outputs, bias has %d",
					ErrSchemaMismatch, i, len(row), out)
			}
		}
		switch l.Activation {
		case "", ActivationLinear, ActivationReLU, ActivationSigmoid, ActivationTanh, ActivationSoftmax:
		default:
			return fmt.Errorf("%w: layer %d has unknown activation %q", ErrSchemaMismatch, i, l.Activation)
		}
		prev = out
	}
	return nil
}

// InputSize implements Shaped.
func (m *MLP) InputSize() int {
	return len(m.Layers[0].Weights)
}

// OutputSize implements Shaped.
func (m *MLP) OutputSize() int {
	return len(m.Layers[len(m.Layers)-1].Bias)
}

// Predict implements Predictor.
func (m *MLP) Predict(_ context.Context, x []float64) ([]float64, error) {
	if len(x) != m.InputSize() {
		return nil, fmt.Errorf("%w: got %d inputs, model expects %d", ErrSchemaMismatch, len(x), m.InputSize())
	}

	a := x
	for _, l := range m.Layers {
		z := make([]float64, len(l.Bias))
		copy(z, l.Bias)
		for i, xi := range a {
			for j, w := range l.Weights[i] {
				z[j] += xi * w
			}
		}
		a = activate(l.Activation, z)
	}
	return a, nil
}

func activate(name string, z []float64) []float64 {
	switch name {
	case ActivationReLU:
		for i, v := range z {
			z[i] = math.Max(0, v)
		}
	case ActivationSigmoid:
		for i, v := range z {
			z[i] = 1 / (1 + math.Exp(-v))
		}
	case ActivationTanh:
		for i, v := range z {
			z[i] = math.Tanh(v)
		}
	case ActivationSoftmax:
		hi := math.Inf(-1)
		for _, v := range z {
			hi = math.Max(hi, v)
		}
		var sum float64
		for i, v := range z {
			z[i] = math.Exp(v - hi)
			sum += z[i]
		}
		for i := range z {
			z[i] /= sum
		}
	}
	return z
}
