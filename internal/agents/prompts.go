package agents

import (
	"fmt"
	"strings"

	"github.com/example/research-orchestrator/internal/models"
	"github.com/example/research-orchestrator/internal/providers/search"
)

const decomposeInstruction = `You break a complex question into smaller, more specific sub-questions so each can be researched on its own.
Write 3-5 sub-questions that together cover the main question completely.
Every sub-question must be self-contained and searchable without the others.
Output ONLY the sub-questions, one per line, with no numbering and no bullet points.`

const researchInstruction = `You are a research assistant. Answer the sub-question using only the search results given as context.
Write a detailed, accurate answer in clear paragraphs.
Leave out anything not relevant to the sub-question.
Do not add a preamble or a conclusion; give only the answer.`

const reportInstruction = `You write research reports. Combine the sub-question summaries below into one coherent report that answers the main question.
Structure it with an introduction, a body covering the findings of each sub-question, and a concluding summary.
Format it in Markdown (# for the title, ## for sections, - for lists) and keep a professional, informative tone.
Sections marked as failed had no research available; acknowledge the gap instead of inventing facts.`

func buildDecomposePrompt(mainQuestion string) string {
	return fmt.Sprintf("%s\n\nMain Question: %s", decomposeInstruction, mainQuestion)
}

// FormatContext renders search hits as "URL: ...\nContent: ..." blocks
// separated by blank lines, in rank order.
func FormatContext(results []search.Result) string {
	blocks := make([]string, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, fmt.Sprintf("URL: %s\nContent: %s", r.URL, r.Content))
	}
	return strings.Join(blocks, "\n\n")
}

func buildResearchPrompt(subQuestion, context string) string {
	return fmt.Sprintf("%s\n\nSub-Question: %s\n\nContext from Search Results:\n---\n%s\n---", researchInstruction, subQuestion, context)
}

// FormatSummaries renders sub-question summaries as "### question\nsummary"
// sections separated by blank lines, in order.
func FormatSummaries(results []models.SubResult) string {
	sections := make([]string, 0, len(results))
	for _, r := range results {
		summary := r.Summary
		if r.Failed {
			summary = "[failed] " + summary
		}
		sections = append(sections, fmt.Sprintf("### %s\n%s", r.SubQuestion, summary))
	}
	return strings.Join(sections, "\n\n")
}

func buildReportPrompt(mainQuestion string, results []models.SubResult) string {
	return fmt.Sprintf("%s\n\nMain Question: %s\n\nResearch Summaries:\n---\n%s\n---", reportInstruction, mainQuestion, FormatSummaries(results))
}
