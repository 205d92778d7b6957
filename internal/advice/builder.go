// Package advice builds the message sequence that asks a language model to
// turn window statistics into engineering advice.
package advice

import (
	"errors"
	"fmt"
	"strconv"

	"signal-insights/internal/data"
	"signal-insights/internal/llm"
	"signal-insights/internal/report"
)

// Persona is the fixed system instruction sent with every request.
const Persona = "You are a senior signal processing engineer. Turn statistics into engineering advice. " +
	"Be structured. Provide up to 6 bullet points, each under 30 words."

// NoContext stands in for an empty user context.
const NoContext = "None"

var ErrNoStatistics = errors.New("advice: no statistics for an empty window")

// Build returns the system and user messages for one advice request. It does
// no I/O.
func Build(stats *data.Statistics, params data.AcquisitionParameters, userContext string) ([]llm.Message, error) {
	if stats == nil {
		return nil, ErrNoStatistics
	}
	user := llm.Message{Role: llm.RoleUser, Content: UserContent(report.FormatStatistics(*stats), params, userContext)}
	return llm.AddSystemPrompt([]llm.Message{user}, Persona), nil
}

// UserContent joins the rendered statistics block, the acquisition
// parameters and the user's context into the user message.
func UserContent(block string, params data.AcquisitionParameters, userContext string) string {
	userContext = llm.ProcessUserInput(userContext)
	if userContext == "" {
		userContext = NoContext
	}
	return fmt.Sprintf("Metrics: %s\nSample Rate: %d Hz, Duration: %s s, Base Freq: %s Hz, Noise σ: %s\nContext: %s",
		block,
		params.SampleRateHz,
		num(params.DurationS),
		num(params.BaseFreqHz),
		num(params.NoiseStd),
		userContext,
	)
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
