package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lithammer/dedent"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/smartbite/smartbite/config"
	"github.com/smartbite/smartbite/internal/classifier"
	"github.com/smartbite/smartbite/internal/labels"
	"github.com/smartbite/smartbite/internal/nutrition"
	"github.com/smartbite/smartbite/internal/pipeline"
)

const usage = `
	Usage: classify [flags] <image-path>

	Classifies a food photo and looks up its nutrition facts.
	Model and API settings are read from the same environment variables
	as the server (LABELS_PATH, WEIGHTS_PATH, NUTRITION_CLIENT_KEY, ...).

	Flags:
`

func main() {
	noNutrition := flag.Bool("no-nutrition", false, "Only classify, skip the nutrition lookup")
	rawJSON := flag.Bool("json", false, "Output raw JSON only")
	timeout := flag.Duration("timeout", 60*time.Second, "Overall timeout")
	verbose := flag.Bool("v", false, "Log progress to stderr")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, strings.TrimPrefix(dedent.Dedent(usage), "\n"))
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	config.LoadEnvFile()
	cfg, err := config.Load()
	if err != nil {
		fail(err)
	}

	imageData, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fail(fmt.Errorf("failed to read image: %w", err))
	}

	engine, err := newEngine(cfg)
	if err != nil {
		fail(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx = pipeline.WithOrigin(ctx, pipeline.Origin{Source: "cli", RequestID: flag.Arg(0)})

	var out any
	if *noNutrition {
		pred, err := engine.Infer(ctx, imageData)
		if err != nil {
			fail(err)
		}
		pred.Probability = pipeline.RoundProbability(pred.Probability)
		out = pred
	} else {
		if missing := config.CheckRequiredConfig(); len(missing) > 0 {
			fail(fmt.Errorf("missing required config: %s (or use -no-nutrition)", strings.Join(missing, ", ")))
		}
		policy, err := nutrition.ParseMismatchPolicy(cfg.NutritionMismatchPolicy)
		if err != nil {
			fail(err)
		}
		client := nutrition.NewClient(nutrition.ClientOpts{
			BaseURL:        cfg.NutritionBaseURL,
			ClientKey:      cfg.NutritionClientKey,
			ClientSecret:   cfg.NutritionClientSecret,
			Timeout:        cfg.NutritionTimeout,
			MismatchPolicy: policy,
		})
		res, err := pipeline.New(engine, client).ClassifyAndEnrich(ctx, imageData)
		if err != nil {
			fail(err)
		}
		out = res
	}

	if *rawJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fail(err)
		}
		return
	}

	switch v := out.(type) {
	case classifier.Prediction:
		fmt.Printf("Label:         %s\n", v.Label)
		fmt.Printf("Probability:   %.3f\n", v.Probability)
	case *pipeline.Result:
		printResult(v)
	}
}

func printResult(res *pipeline.Result) {
	fmt.Printf("Label:         %s\n", res.Label)
	fmt.Printf("Probability:   %.3f\n", res.Probability)
	if res.Nutrition == nil {
		return
	}
	fmt.Println()
	fmt.Printf("Serving:       %s\n", res.Nutrition.ServingSize)
	fmt.Printf("Calories:      %s\n", res.Nutrition.Calories)
	fmt.Printf("Protein:       %s\n", res.Nutrition.Protein)
	fmt.Printf("Carbohydrates: %s\n", res.Nutrition.Carbohydrates)
	fmt.Printf("Fat:           %s\n", res.Nutrition.Fat)
	if res.Nutrition.FoodURL != nil {
		fmt.Printf("URL:           %s\n", *res.Nutrition.FoodURL)
	}
}

func newEngine(cfg *config.Config) (*classifier.Engine, error) {
	format, err := labels.ParseFormat(cfg.LabelsFormat)
	if err != nil {
		return nil, err
	}
	weights, err := classifier.ParseWeightSource(cfg.WeightsStrategy, cfg.WeightsPath, cfg.CheckpointPath)
	if err != nil {
		return nil, err
	}
	arch, err := classifier.ArchitectureByName(cfg.ModelArch)
	if err != nil {
		return nil, err
	}
	return classifier.New(classifier.Options{
		LabelsPath:         cfg.LabelsPath,
		LabelsFormat:       format,
		Weights:            weights,
		Architecture:       arch,
		Device:             cfg.Device,
		Workers:            1,
		CorrectOrientation: cfg.ExifOrientation,
		MaxPixels:          cfg.MaxImagePixels,
	})
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
