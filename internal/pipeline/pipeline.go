// Package pipeline classifies a food photo and enriches the prediction with
// nutrition facts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/smartbite/smartbite/internal/classifier"
	"github.com/smartbite/smartbite/internal/metrics"
	"github.com/smartbite/smartbite/internal/nutrition"
	"github.com/smartbite/smartbite/internal/storage"
)

// Stage identifies where a pipeline run failed.
type Stage string

const (
	StageClassify  Stage = "classify"
	StageNutrition Stage = "nutrition"
)

// ClassificationPipelineError is the single error kind returned by
// ClassifyAndEnrich. It unwraps to the underlying cause.
type ClassificationPipelineError struct {
	Stage Stage
	Err   error
}

func (e *ClassificationPipelineError) Error() string {
	return fmt.Sprintf("classification pipeline failed at %s: %v", e.Stage, e.Err)
}

func (e *ClassificationPipelineError) Unwrap() error { return e.Err }

// IsPipelineError reports whether err is a ClassificationPipelineError.
func IsPipelineError(err error) bool {
	var pe *ClassificationPipelineError
	return errors.As(err, &pe)
}

// Classifier predicts the food class of an image.
type Classifier interface {
	Infer(ctx context.Context, raw []byte) (classifier.Prediction, error)
}

// NutritionLookup finds nutrition facts for a label.
type NutritionLookup interface {
	Lookup(ctx context.Context, label string) (*nutrition.Info, error)
}

// Recorder stores completed analyses.
type Recorder interface {
	AddHistory(entry *storage.HistoryEntry) error
}

// Result is a classification enriched with nutrition.
type Result struct {
	Label       string          `json:"label"`
	Probability float64         `json:"probability"`
	Nutrition   *nutrition.Info `json:"nutrition"`
}

// Pipeline wires a classifier to a nutrition source. It holds no per-call
// state and is safe for concurrent use.
type Pipeline struct {
	classifier Classifier
	nutrition  NutritionLookup
	recorder   Recorder
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRecorder records every successful run.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

func New(c Classifier, n NutritionLookup, opts ...Option) *Pipeline {
	p := &Pipeline{classifier: c, nutrition: n}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ClassifyAndEnrich classifies raw image bytes, then looks up nutrition for
// the predicted label. Either both succeed or a *ClassificationPipelineError
// is returned.
func (p *Pipeline) ClassifyAndEnrich(ctx context.Context, raw []byte) (*Result, error) {
	start := time.Now()
	origin := OriginFrom(ctx)

	pred, err := p.classifier.Infer(ctx, raw)
	if err != nil {
		metrics.PipelineRequestsTotal.WithLabelValues("classify_error").Inc()
		log.Error().Err(err).Str("source", origin.Source).Str("requestId", origin.RequestID).Msg("classification failed")
		return nil, &ClassificationPipelineError{Stage: StageClassify, Err: err}
	}

	info, err := p.nutrition.Lookup(ctx, pred.Label)
	if err != nil {
		metrics.PipelineRequestsTotal.WithLabelValues("nutrition_error").Inc()
		log.Error().Err(err).Str("source", origin.Source).Str("requestId", origin.RequestID).Str("label", pred.Label).Msg("nutrition lookup failed")
		return nil, &ClassificationPipelineError{Stage: StageNutrition, Err: err}
	}

	res := &Result{
		Label:       pred.Label,
		Probability: RoundProbability(pred.Probability),
		Nutrition:   info,
	}
	metrics.PipelineRequestsTotal.WithLabelValues("ok").Inc()

	log.Info().
		Str("source", origin.Source).
		Str("requestId", origin.RequestID).
		Str("label", res.Label).
		Float64("probability", res.Probability).
		Str("calories", info.Calories).
		Dur("took", time.Since(start)).
		Msg("classified image")

	p.record(origin, res)
	return res, nil
}

func (p *Pipeline) record(o Origin, res *Result) {
	if p.recorder == nil {
		return
	}
	entry := &storage.HistoryEntry{
		RequestID:     o.RequestID,
		Source:        o.Source,
		Label:         res.Label,
		Probability:   res.Probability,
		Calories:      res.Nutrition.Calories,
		Protein:       res.Nutrition.Protein,
		Carbohydrates: res.Nutrition.Carbohydrates,
		Fat:           res.Nutrition.Fat,
	}
	if err := p.recorder.AddHistory(entry); err != nil {
		log.Warn().Err(err).Str("label", res.Label).Msg("failed to record history")
	}
}

// RoundProbability rounds p to three decimal digits.
func RoundProbability(p float64) float64 {
	return math.Round(p*1000) / 1000
}
