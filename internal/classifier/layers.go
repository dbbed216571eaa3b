package classifier

import (
	"fmt"
	"math"

	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/tensor"
)

// Tensor is the float32 CPU tensor the model computes with.
type Tensor = tensor.Tensor[float32, *cpu.Backend]

const bnEps = 1e-5

// conv is a bias-free convolution with its eval-mode batch norm folded in:
// y = conv(x, w*scale) + (beta - mean*scale), scale = gamma/sqrt(var+eps).
type conv struct {
	weight  *Tensor
	bias    *Tensor // [1,C,1,1]
	stride  int
	padding int
}

func foldConv(sd stateDict, spec convSpec, b *cpu.Backend) (*conv, error) {
	w := sd[spec.weight].AsFloat32()
	gamma := sd[spec.bn+".weight"].AsFloat32()
	beta := sd[spec.bn+".bias"].AsFloat32()
	mean := sd[spec.bn+".running_mean"].AsFloat32()
	variance := sd[spec.bn+".running_var"].AsFloat32()

	perOut := spec.in * spec.k * spec.k
	folded := make([]float32, len(w))
	bias := make([]float32, spec.out)
	for o := 0; o < spec.out; o++ {
		if variance[o] < 0 {
			return nil, fmt.Errorf("%w: %s.running_var[%d] is negative", ErrWeights, spec.bn, o)
		}
		scale := gamma[o] / float32(math.Sqrt(float64(variance[o])+bnEps))
		for i := o * perOut; i < (o+1)*perOut; i++ {
			folded[i] = w[i] * scale
		}
		bias[o] = beta[o] - mean[o]*scale
	}

	wt, err := tensor.FromSlice(folded, tensor.Shape{spec.out, spec.in, spec.k, spec.k}, b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", spec.weight, err)
	}
	bt, err := tensor.FromSlice(bias, tensor.Shape{1, spec.out, 1, 1}, b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", spec.bn, err)
	}

	return &conv{
		weight:  freeze(wt),
		bias:    freeze(bt),
		stride:  spec.stride,
		padding: spec.pad,
	}, nil
}

func (c *conv) forward(x *Tensor) *Tensor {
	b := x.Backend()
	out := tensor.New[float32](b.Conv2D(x.Raw(), c.weight.Raw(), c.stride, c.padding), b)
	return out.Add(c.bias)
}

// linear is the classification head: y = x @ W^T + b.
type linear struct {
	weightT *Tensor // [in, out]
	bias    *Tensor // [1, out]
}

func newLinear(sd stateDict, b *cpu.Backend) (*linear, error) {
	w := tensor.New[float32](sd["fc.weight"], b)
	out := w.Shape()[0]

	bias, err := tensor.FromSlice(sd["fc.bias"].AsFloat32(), tensor.Shape{1, out}, b)
	if err != nil {
		return nil, fmt.Errorf("fc.bias: %w", err)
	}
	return &linear{
		weightT: freeze(w.Transpose()),
		bias:    freeze(bias),
	}, nil
}

func (l *linear) forward(x *Tensor) *Tensor {
	return x.MatMul(l.weightT).Add(l.bias)
}

// freeze pins t so backend ops never reuse its buffer in place. Model
// parameters stay pinned for the lifetime of the engine.
func freeze(t *Tensor) *Tensor {
	_ = t.Raw().ForceNonUnique()
	return t
}

// relu clamps x in place. Only call it on activations owned by the
// current forward pass.
func relu(x *Tensor) *Tensor {
	d := x.Data()
	for i, v := range d {
		if v < 0 {
			d[i] = 0
		}
	}
	return x
}

// maxPool is a 3x3 stride 2 max pool with padding 1. Zero padding is used
// in place of -inf, which is equivalent because the input is post-ReLU.
func maxPool(x *Tensor) *Tensor {
	s := x.Shape()
	n, c, h, w := s[0], s[1], s[2], s[3]
	b := x.Backend()

	padded := tensor.Zeros[float32](tensor.Shape{n, c, h + 2, w + 2}, b)
	src, dst := x.Data(), padded.Data()
	for p := 0; p < n*c; p++ {
		for y := 0; y < h; y++ {
			from := (p*h + y) * w
			to := (p*(h+2)+y+1)*(w+2) + 1
			copy(dst[to:to+w], src[from:from+w])
		}
	}

	return tensor.New[float32](b.MaxPool2D(padded.Raw(), 3, 2), b)
}

// globalAvgPool reduces [N,C,H,W] to [N,C].
func globalAvgPool(x *Tensor) *Tensor {
	s := x.Shape()
	b := x.Backend()
	flat := x.Reshape(s[0], s[1], s[2]*s[3])
	return tensor.New[float32](b.MeanDim(flat.Raw(), 2, false), b)
}
