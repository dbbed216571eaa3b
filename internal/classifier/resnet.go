package classifier

import (
	"context"
	"fmt"

	"github.com/born-ml/born/backend/cpu"
)

// ResNet is an inference-only ResNet backbone with a linear classification
// head. It is immutable after construction and safe for concurrent use.
type ResNet struct {
	arch       Architecture
	numClasses int
	stem       *conv
	stages     [4][]*block
	head       *linear
}

type block struct {
	convs      []*conv
	downsample *conv
}

// NewResNet loads weights from src into arch with a numClasses-wide head.
func NewResNet(arch Architecture, numClasses int, src WeightSource, b *cpu.Backend) (*ResNet, error) {
	sd, err := loadStateDict(src, arch.ParameterShapes(numClasses), b)
	if err != nil {
		return nil, err
	}
	return buildResNet(arch, numClasses, sd, b)
}

func buildResNet(arch Architecture, numClasses int, sd stateDict, b *cpu.Backend) (*ResNet, error) {
	m := &ResNet{arch: arch, numClasses: numClasses}

	var err error
	if m.stem, err = foldConv(sd, arch.stem(), b); err != nil {
		return nil, fmt.Errorf("stem: %w", err)
	}

	for s, stage := range arch.blocks() {
		for _, spec := range stage {
			bl := &block{}
			for _, cs := range spec.convs(arch.Block) {
				c, err := foldConv(sd, cs, b)
				if err != nil {
					return nil, err
				}
				bl.convs = append(bl.convs, c)
			}
			if spec.downsample {
				if bl.downsample, err = foldConv(sd, spec.downsampleConv(arch.Block), b); err != nil {
					return nil, err
				}
			}
			m.stages[s] = append(m.stages[s], bl)
		}
	}

	if m.head, err = newLinear(sd, b); err != nil {
		return nil, err
	}
	return m, nil
}

// Architecture returns the backbone layout.
func (m *ResNet) Architecture() Architecture { return m.arch }

// NumClasses returns the width of the classification head.
func (m *ResNet) NumClasses() int { return m.numClasses }

// Forward maps a [1,3,H,W] batch to [1,numClasses] logits. The context is
// checked between stages.
func (m *ResNet) Forward(ctx context.Context, x *Tensor) (*Tensor, error) {
	out := maxPool(relu(m.stem.forward(x)))
	for _, stage := range m.stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, bl := range stage {
			out = bl.forward(out)
		}
	}
	return m.head.forward(globalAvgPool(out)), nil
}

func (bl *block) forward(x *Tensor) *Tensor {
	out := x
	last := len(bl.convs) - 1
	for i, c := range bl.convs {
		out = c.forward(out)
		if i < last {
			out = relu(out)
		}
	}

	identity := x
	if bl.downsample != nil {
		identity = bl.downsample.forward(x)
	}
	return relu(out.Add(identity))
}
