package classifier

import (
	"fmt"
	"strings"
)

// BlockKind is the residual block used by a ResNet.
type BlockKind int

const (
	// BasicBlock is two 3x3 convolutions (ResNet-18/34).
	BasicBlock BlockKind = iota
	// Bottleneck is 1x1, 3x3, 1x1 convolutions with 4x expansion (ResNet-50+).
	Bottleneck
)

// Architecture describes a torchvision-style ResNet backbone.
type Architecture struct {
	Name   string
	Block  BlockKind
	Layers [4]int // blocks per stage
	Width  int    // channels after the stem
}

var (
	ResNet18 = Architecture{Name: "resnet18", Block: BasicBlock, Layers: [4]int{2, 2, 2, 2}, Width: 64}
	ResNet34 = Architecture{Name: "resnet34", Block: BasicBlock, Layers: [4]int{3, 4, 6, 3}, Width: 64}
	ResNet50 = Architecture{Name: "resnet50", Block: Bottleneck, Layers: [4]int{3, 4, 6, 3}, Width: 64}
)

// ArchitectureByName returns one of the predefined backbones.
func ArchitectureByName(name string) (Architecture, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "resnet18":
		return ResNet18, nil
	case "resnet34":
		return ResNet34, nil
	case "resnet50", "":
		return ResNet50, nil
	default:
		return Architecture{}, fmt.Errorf("unknown model architecture %q", name)
	}
}

func (a Architecture) expansion() int {
	if a.Block == Bottleneck {
		return 4
	}
	return 1
}

// FeatureDim is the width of the pooled features fed to the head.
func (a Architecture) FeatureDim() int {
	return a.Width * 8 * a.expansion()
}

// blockSpec is the static layout of one residual block.
type blockSpec struct {
	prefix     string
	in, planes int
	stride     int
	downsample bool
}

func (a Architecture) blocks() [4][]blockSpec {
	var stages [4][]blockSpec
	in := a.Width
	for s := 0; s < 4; s++ {
		planes := a.Width << s
		out := planes * a.expansion()
		for i := 0; i < a.Layers[s]; i++ {
			stride := 1
			if i == 0 && s > 0 {
				stride = 2
			}
			stages[s] = append(stages[s], blockSpec{
				prefix:     fmt.Sprintf("layer%d.%d.", s+1, i),
				in:         in,
				planes:     planes,
				stride:     stride,
				downsample: stride != 1 || in != out,
			})
			in = out
		}
	}
	return stages
}

// convSpec describes a convolution followed by batch norm.
type convSpec struct {
	weight, bn  string
	out, in, k  int
	stride, pad int
}

func (b blockSpec) convs(kind BlockKind) []convSpec {
	p := b.prefix
	if kind == Bottleneck {
		return []convSpec{
			{p + "conv1.weight", p + "bn1", b.planes, b.in, 1, 1, 0},
			{p + "conv2.weight", p + "bn2", b.planes, b.planes, 3, b.stride, 1},
			{p + "conv3.weight", p + "bn3", b.planes * 4, b.planes, 1, 1, 0},
		}
	}
	return []convSpec{
		{p + "conv1.weight", p + "bn1", b.planes, b.in, 3, b.stride, 1},
		{p + "conv2.weight", p + "bn2", b.planes, b.planes, 3, 1, 1},
	}
}

func (b blockSpec) downsampleConv(kind BlockKind) convSpec {
	out := b.planes
	if kind == Bottleneck {
		out *= 4
	}
	return convSpec{b.prefix + "downsample.0.weight", b.prefix + "downsample.1", out, b.in, 1, b.stride, 0}
}

func (a Architecture) stem() convSpec {
	return convSpec{"conv1.weight", "bn1", a.Width, 3, 7, 2, 3}
}

// ParameterShapes lists every tensor the architecture reads from a state
// dict, keyed by its PyTorch name.
func (a Architecture) ParameterShapes(numClasses int) map[string][]int {
	shapes := make(map[string][]int)
	addConv := func(c convSpec) {
		shapes[c.weight] = []int{c.out, c.in, c.k, c.k}
		for _, suffix := range bnSuffixes {
			shapes[c.bn+"."+suffix] = []int{c.out}
		}
	}

	addConv(a.stem())
	for _, stage := range a.blocks() {
		for _, b := range stage {
			for _, c := range b.convs(a.Block) {
				addConv(c)
			}
			if b.downsample {
				addConv(b.downsampleConv(a.Block))
			}
		}
	}
	shapes["fc.weight"] = []int{numClasses, a.FeatureDim()}
	shapes["fc.bias"] = []int{numClasses}
	return shapes
}

var bnSuffixes = []string{"weight", "bias", "running_mean", "running_var"}
