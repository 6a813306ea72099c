package pipeline

import "fmt"

func titlesPrompt(keyword string) string {
	return fmt.Sprintf(`You suggest titles for product review blog posts.
Suggest exactly 3 blog post titles for the product keyword below, one per line.

Keyword: %s`, keyword)
}

func outlinePrompt(title, sources string) string {
	return fmt.Sprintf(`Write the outline of a product review blog post with the title below.
List only top-level section headings, one per line, without numbers and without sub-headings.
Use 4-6 sections and ground them in the web search results provided.

Title: %s

Search Results:
---
%s
---`, title, sources)
}

func postingPrompt(title, outline string) string {
	return fmt.Sprintf(`You are an experienced blog writer.
Write a product review blog post following the outline below.
Keep each heading as given and write about three natural sentences under each one.
Use a friendly, honest tone so the post reads like a genuine review rather than an advertisement.

Title: %s

Outline:
%s`, title, outline)
}

func translatePrompt(targetLanguage, text string) string {
	return fmt.Sprintf(`You are a professional translator. Translate the following text into %s.
Output only the translation.

%s`, targetLanguage, text)
}

func summaryPrompt(targetLanguage, text string) string {
	return fmt.Sprintf(`You are an expert summarizer. Summarize the full text below concisely and with clear structure, in %s.

%s`, targetLanguage, text)
}

func chunkSummaryPrompt(i, n int, text string) string {
	return fmt.Sprintf("Summarize this section into 3-5 concise bullets focusing on key facts.\n\nSection %d/%d:\n%s", i, n, text)
}

func reduceSummaryPrompt(targetLanguage, sections string) string {
	return fmt.Sprintf(`Combine the following section summaries into a single clear summary in %s (bullets or short paragraphs).
Avoid repetition; preserve critical details.

Summaries:%s`, targetLanguage, sections)
}
