package nutrition

import (
	"fmt"
	"regexp"
	"strings"
)

// Sentinel fills fields that could not be read from a food description.
const Sentinel = "NaN"

// MismatchPolicy decides what happens when a food description does not
// match the expected format.
type MismatchPolicy int

const (
	// SoftMismatch returns the record with every nutrient set to Sentinel.
	SoftMismatch MismatchPolicy = iota
	// HardMismatch fails the lookup.
	HardMismatch
)

func (p MismatchPolicy) String() string {
	if p == HardMismatch {
		return "hard"
	}
	return "soft"
}

// ParseMismatchPolicy parses "soft" or "hard". Empty means soft.
func ParseMismatchPolicy(s string) (MismatchPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "soft":
		return SoftMismatch, nil
	case "hard":
		return HardMismatch, nil
	default:
		return SoftMismatch, fmt.Errorf("unknown mismatch policy %q", s)
	}
}

// Descriptions look like
// "Per 100g - Calories: 52kcal | Fat: 0.17g | Carbs: 13.81g | Protein: 0.26g".
var descriptionPattern = regexp.MustCompile(
	`Calories:\s*(\d+(?:\.\d+)?kcal)\s*\|\s*Fat:\s*(\d+(?:\.\d+)?g)\s*\|\s*Carbs:\s*(\d+(?:\.\d+)?g)\s*\|\s*Protein:\s*(\d+(?:\.\d+)?g)`,
)

// Facts are the nutrient strings pulled from a description, units included.
type Facts struct {
	Calories      string
	Fat           string
	Carbohydrates string
	Protein       string
}

// ParseResult is the outcome of parsing one description. Reason explains a
// failed match.
type ParseResult struct {
	Facts  Facts
	OK     bool
	Reason string
}

// Parser extracts nutrients from food descriptions.
type Parser struct {
	pattern *regexp.Regexp
}

// NewParser returns a Parser for the standard description format.
func NewParser() *Parser {
	return &Parser{pattern: descriptionPattern}
}

// Parse extracts the four nutrients from desc.
func (p *Parser) Parse(desc string) ParseResult {
	if strings.TrimSpace(desc) == "" {
		return ParseResult{Reason: "empty description"}
	}
	m := p.pattern.FindStringSubmatch(desc)
	if m == nil {
		return ParseResult{Reason: fmt.Sprintf("description %q does not match the expected format", desc)}
	}
	return ParseResult{
		Facts: Facts{
			Calories:      m[1],
			Fat:           m[2],
			Carbohydrates: m[3],
			Protein:       m[4],
		},
		OK: true,
	}
}

func sentinelFacts() Facts {
	return Facts{
		Calories:      Sentinel,
		Fat:           Sentinel,
		Carbohydrates: Sentinel,
		Protein:       Sentinel,
	}
}
