package openai

import (
	"strings"

	"github.com/mmacy/modul8r/models"
)

// ModelFamily is the tagged variant that drives per-model request shaping.
// Adding a family is one new variant plus one entry in Adapt.
type ModelFamily string

const (
	// FamilyStandard covers gpt-* vision models: max_output_tokens plus an
	// explicit sampling temperature.
	FamilyStandard ModelFamily = "standard"
	// FamilyReasoning covers o-series models: max_completion_tokens and no
	// temperature control.
	FamilyReasoning ModelFamily = "reasoning"
)

// ClassifyModel resolves a model identifier to its family. Unrecognized
// identifiers fall back to the standard family rather than erroring, since
// the model catalog changes over time.
func ClassifyModel(modelID string) ModelFamily {
	if strings.HasPrefix(modelID, "o") {
		return FamilyReasoning
	}
	return FamilyStandard
}

// RequestShape carries the family-dependent request parameters for one
// remote call.
type RequestShape struct {
	Family              ModelFamily
	Detail              models.DetailLevel
	MaxOutputTokens     int      // standard family token limit
	MaxCompletionTokens int      // reasoning family token limit
	Temperature         *float64 // nil for the reasoning family
}

// Adapt maps a model identifier and detail level to the request shape legal
// for that model's family. Pure function, invoked once per page request.
func Adapt(modelID string, detail models.DetailLevel, maxTokens int, temperature float64) RequestShape {
	shape := RequestShape{Detail: detail}
	switch ClassifyModel(modelID) {
	case FamilyReasoning:
		shape.Family = FamilyReasoning
		shape.MaxCompletionTokens = maxTokens
	default:
		shape.Family = FamilyStandard
		shape.MaxOutputTokens = maxTokens
		t := temperature
		shape.Temperature = &t
	}
	return shape
}
