// Package classifier runs the food classification model.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/tensor"
	"github.com/rs/zerolog/log"
	"github.com/smartbite/smartbite/internal/labels"
	"github.com/smartbite/smartbite/internal/metrics"
	"github.com/smartbite/smartbite/internal/vision"
	"golang.org/x/sync/semaphore"
)

var (
	ErrNotInitialized = errors.New("classification engine not initialized")
	ErrInference      = errors.New("inference failed")
)

// Prediction is the most likely class for an image.
type Prediction struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// Options configures engine construction.
type Options struct {
	LabelsPath   string
	LabelsFormat labels.Format
	Weights      WeightSource
	Architecture Architecture
	Device       string
	// Workers bounds concurrent forward passes. Defaults to runtime.NumCPU().
	Workers int
	// InputSize overrides the square input resolution. Defaults to vision.Size.
	InputSize          int
	CorrectOrientation bool
	// MaxPixels rejects larger images before decoding. Defaults to
	// vision.DefaultMaxPixels.
	MaxPixels int
}

// Engine owns the loaded model and runs inference. It is never mutated after
// New returns and is safe for concurrent use.
type Engine struct {
	catalog *labels.Catalog
	model   *ResNet
	backend *cpu.Backend
	device  Device
	pre     *vision.Preprocessor
	sem     *semaphore.Weighted
	workers int
}

// New loads labels and weights and builds an Engine. Any problem with the
// label file or the weights is reported here rather than on first use.
func New(opts Options) (*Engine, error) {
	start := time.Now()

	catalog, err := labels.Load(opts.LabelsPath, opts.LabelsFormat)
	if err != nil {
		return nil, err
	}

	if opts.Weights == nil {
		return nil, errors.New("no weight source configured")
	}

	backend, device, err := SelectDevice(opts.Device)
	if err != nil {
		return nil, err
	}

	arch := opts.Architecture
	if arch.Name == "" {
		arch = ResNet50
	}

	model, err := NewResNet(arch, catalog.Len(), opts.Weights, backend)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s with %d classes: %w", arch.Name, catalog.Len(), err)
	}

	workers := opts.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	size := opts.InputSize
	if size <= 0 {
		size = vision.Size
	}

	e := &Engine{
		catalog: catalog,
		model:   model,
		backend: backend,
		device:  device,
		pre: vision.NewPreprocessor(
			vision.WithSize(size),
			vision.WithOrientation(opts.CorrectOrientation),
			vision.WithMaxPixels(opts.MaxPixels),
		),
		sem:     semaphore.NewWeighted(int64(workers)),
		workers: workers,
	}

	log.Info().
		Str("arch", arch.Name).
		Str("device", string(device)).
		Str("weights", opts.Weights.String()).
		Int("classes", catalog.Len()).
		Int("workers", workers).
		Dur("took", time.Since(start)).
		Msg("classification engine ready")

	return e, nil
}

// Labels returns the label catalog.
func (e *Engine) Labels() *labels.Catalog { return e.catalog }

// Device returns the compute device in use.
func (e *Engine) Device() Device { return e.device }

// Infer classifies raw image bytes. It waits for a free worker slot, which
// is bounded by ctx. Undecodable input returns an error matching
// vision.ErrDecode; everything else matches ErrInference.
func (e *Engine) Infer(ctx context.Context, raw []byte) (Prediction, error) {
	if e == nil || e.model == nil || e.catalog == nil {
		return Prediction{}, fmt.Errorf("%w: %w", ErrInference, ErrNotInitialized)
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return Prediction{}, fmt.Errorf("%w: waiting for worker: %w", ErrInference, err)
	}
	defer e.sem.Release(1)

	metrics.InferenceInFlight.Inc()
	defer metrics.InferenceInFlight.Dec()

	start := time.Now()
	pred, err := e.infer(ctx, raw)
	metrics.InferenceDurationSeconds.WithLabelValues(metrics.Result(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		return Prediction{}, err
	}

	log.Debug().
		Str("label", pred.Label).
		Float64("probability", pred.Probability).
		Dur("took", time.Since(start)).
		Msg("inference complete")

	return pred, nil
}

func (e *Engine) infer(ctx context.Context, raw []byte) (pred Prediction, err error) {
	input, err := e.pre.Preprocess(raw)
	if err != nil {
		return Prediction{}, err
	}

	// Backend ops panic on shape or dtype mismatches.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrInference, r)
		}
	}()

	x, err := e.toTensor(input)
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %w", ErrInference, err)
	}

	logits, err := e.model.Forward(ctx, x)
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %w", ErrInference, err)
	}

	probs := logits.Softmax(1).Data()
	k := argmax(probs)

	label, err := e.catalog.At(k)
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %w", ErrInference, err)
	}
	return Prediction{Label: label, Probability: float64(probs[k])}, nil
}

func (e *Engine) toTensor(in *vision.Tensor) (*Tensor, error) {
	return tensor.FromSlice(in.Data, tensor.Shape(in.Shape[:]), e.backend)
}

// argmax returns the first index holding the maximum value.
func argmax(v []float32) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
