package classifier

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/loader"
	"github.com/born-ml/born/tensor"
	"github.com/rs/zerolog/log"
)

// StateDictKey is the checkpoint entry holding the model parameters.
const StateDictKey = "state_dict"

// ErrWeights is returned when a weight file does not fit the architecture.
var ErrWeights = errors.New("invalid model weights")

// Prefixes added when the backbone is wrapped in another module.
var wrapperPrefixes = []string{"model.", "module."}

// WeightSource selects where model parameters are read from. Exactly one
// source is active per engine.
type WeightSource interface {
	fmt.Stringer
	File() string
	// resolve maps canonical parameter names to the names stored in the file.
	resolve(stored []string) (map[string]string, error)
}

// DefaultWeights is a flat parameter dump.
type DefaultWeights struct {
	Path string
}

func (w DefaultWeights) File() string   { return w.Path }
func (w DefaultWeights) String() string { return "default:" + w.Path }

func (w DefaultWeights) resolve(stored []string) (map[string]string, error) {
	out := make(map[string]string, len(stored))
	for _, name := range stored {
		out[stripWrappers(name)] = name
	}
	return out, nil
}

// CheckpointWeights is a training snapshot whose parameters are nested
// under StateDictKey. Everything outside it (optimizer state, counters) is
// ignored.
type CheckpointWeights struct {
	Path string
}

func (w CheckpointWeights) File() string   { return w.Path }
func (w CheckpointWeights) String() string { return "checkpoint:" + w.Path }

func (w CheckpointWeights) resolve(stored []string) (map[string]string, error) {
	prefix := StateDictKey + "."
	out := make(map[string]string)
	for _, name := range stored {
		if rest, ok := strings.CutPrefix(name, prefix); ok {
			out[stripWrappers(rest)] = name
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: checkpoint %s has no %q entries", ErrWeights, w.Path, StateDictKey)
	}
	return out, nil
}

// ParseWeightSource resolves the configured loading strategy.
func ParseWeightSource(strategy, weightsPath, checkpointPath string) (WeightSource, error) {
	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case "default", "":
		if weightsPath == "" {
			return nil, errors.New("weights path is empty")
		}
		return DefaultWeights{Path: weightsPath}, nil
	case "checkpoint":
		if checkpointPath == "" {
			return nil, errors.New("checkpoint path is empty")
		}
		return CheckpointWeights{Path: checkpointPath}, nil
	default:
		return nil, fmt.Errorf("unknown weights strategy %q (expected default or checkpoint)", strategy)
	}
}

func stripWrappers(name string) string {
	for {
		trimmed := name
		for _, p := range wrapperPrefixes {
			trimmed = strings.TrimPrefix(trimmed, p)
		}
		if trimmed == name {
			return name
		}
		name = trimmed
	}
}

type stateDict map[string]*tensor.RawTensor

// loadStateDict reads every tensor listed in want from src and checks its
// dtype and shape. Extra tensors in the file are ignored.
func loadStateDict(src WeightSource, want map[string][]int, b *cpu.Backend) (stateDict, error) {
	r, err := loader.OpenModel(src.File())
	if err != nil {
		return nil, fmt.Errorf("failed to open weights %s: %w", src, err)
	}
	defer r.Close()

	if _, ok := src.(CheckpointWeights); ok {
		if meta := r.Metadata(); len(meta) > 0 {
			log.Info().Fields(meta).Msg("checkpoint metadata")
		}
	}

	names, err := src.resolve(r.TensorNames())
	if err != nil {
		return nil, err
	}

	var missing []string
	sd := make(stateDict, len(want))
	for key, shape := range want {
		stored, ok := names[key]
		if !ok {
			missing = append(missing, key)
			continue
		}
		raw, err := r.LoadTensor(stored, b)
		if err != nil {
			return nil, fmt.Errorf("failed to load tensor %s: %w", stored, err)
		}
		if raw.DType() != tensor.Float32 {
			return nil, fmt.Errorf("%w: tensor %s has dtype %s, expected float32", ErrWeights, stored, raw.DType())
		}
		if !raw.Shape().Equal(tensor.Shape(shape)) {
			return nil, fmt.Errorf("%w: tensor %s has shape %v, expected %v", ErrWeights, stored, raw.Shape(), shape)
		}
		sd[key] = raw
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %d parameters missing from %s, first is %s", ErrWeights, len(missing), src, missing[0])
	}

	log.Info().
		Str("source", src.String()).
		Int("tensors", len(sd)).
		Int("ignored", len(names)-len(sd)).
		Msg("loaded model weights")

	return sd, nil
}
