package insight

import (
	"fmt"
	"strings"

	"github.com/KaramelBytes/insightloom/internal/ai"
	"github.com/KaramelBytes/insightloom/internal/model"
	"github.com/KaramelBytes/insightloom/internal/summary"
	"github.com/KaramelBytes/insightloom/internal/utils"
)

const (
	insightsContextRunes = 500
	// reserve for role framing and provider overhead
	promptMarginTokens = 256
)

const initialSystem = "You are a data analyst. You are given aggregated statistics about a " +
	"delimited-text dataset, never its rows. Base every statement on those statistics. " +
	"Do not invent values. Do not use any emojis."

const followUpSystem = "You are a helpful data analyst. Answer questions about the dataset " +
	"accurately and concisely, using only the statistics and earlier answers provided."

const initialInstructions = `Analyze the dataset described above and write a concise insights report.

Use exactly these sections:

## Data Overview
Brief summary of the dataset.

## Key Trends & Patterns
- 3-5 notable patterns or trends

## Outliers & Anomalies
- Unusual values or distributions worth investigating

## What to Check Next
- 2-3 recommended follow-up analyses

## Quick Recommendations
- 2-3 actionable suggestions based on the data

Keep it concise and actionable. Use bullet points.`

func initialMessages(s *summary.Summary, budget int) []ai.Message {
	body := fitSummary(s.Markdown(), budget-utils.CountTokens(initialSystem+initialInstructions))
	return []ai.Message{
		{Role: "system", Content: initialSystem},
		{Role: "user", Content: body + "\n\n" + initialInstructions},
	}
}

// followUpMessages puts the dataset context in the system turn so the
// remaining turns alternate user/assistant, which Gemini and Anthropic require.
func followUpMessages(s *summary.Summary, insights string, history []model.FollowUp, window int, question string, budget int) []ai.Message {
	if window >= 0 && len(history) > window {
		history = history[len(history)-window:]
	}
	prev := strings.TrimSpace(utils.TruncateRunes(insights, insightsContextRunes))
	if prev == "" {
		prev = "Not yet generated."
	}
	turns := func(h []model.FollowUp) []ai.Message {
		out := make([]ai.Message, 0, 2*len(h)+1)
		for _, f := range h {
			out = append(out,
				ai.Message{Role: "user", Content: f.Question},
				ai.Message{Role: "assistant", Content: f.Answer})
		}
		return append(out, ai.Message{Role: "user", Content: question})
	}
	framing := func(sum string) string {
		return fmt.Sprintf("%s\n\n%s\n\n[PREVIOUS INSIGHTS]\n%s", followUpSystem, sum, prev)
	}

	sum := s.Markdown()
	conv := turns(history)
	// drop the oldest exchanges first, then shrink the summary
	for len(history) > 0 && tokensOf(framing(sum), conv) > budget {
		history = history[1:]
		conv = turns(history)
	}
	if over := tokensOf(framing(sum), conv) - budget; over > 0 {
		sum = fitSummary(sum, utils.CountTokens(sum)-over)
	}
	return append([]ai.Message{{Role: "system", Content: framing(sum)}}, conv...)
}

func tokensOf(system string, conv []ai.Message) int {
	n := utils.CountTokens(system)
	for _, m := range conv {
		n += utils.CountTokens(m.Content)
	}
	return n
}

func fitSummary(md string, tokens int) string {
	if tokens <= 0 || utils.CountTokens(md) <= tokens {
		return md
	}
	return utils.TruncateToTokenLimit(md, tokens) + "\n[summary truncated]"
}

// promptBudget is the prompt allowance for model given the completion size.
// Unknown models get no bound.
func promptBudget(modelName string, maxTokens int) int {
	mi, ok := ai.LookupModel(modelName)
	if !ok || mi.ContextTokens <= 0 {
		return int(^uint(0) >> 1)
	}
	return max(mi.ContextTokens-maxTokens-promptMarginTokens, 512)
}
