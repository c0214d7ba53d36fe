package llm

import (
	"fmt"
	"strings"
)

const answerSystemPrompt = "You are an assistant that answers questions about a specific document. " +
	"Answer using only the provided document context. " +
	"If the context does not contain the answer, say so plainly instead of guessing. " +
	"Keep answers concise and quote the document where it helps. " +
	"Where possible, cite the section that supports each claim, like [Section 2]."

const fallbackContextNote = "Only the opening of the document is available as context. " +
	"If it is not enough to answer, tell the user the relevant section could not be retrieved."

// maxHistoryPairs bounds how many prior question/answer pairs are replayed
// into the conversation.
const maxHistoryPairs = 3

// buildAnswerMessages renders a deterministic message list: same inputs, same
// prompt, byte for byte.
func buildAnswerMessages(req AnswerRequest) []chatMessage {
	var ctxBlock strings.Builder
	if title := strings.TrimSpace(req.DocumentTitle); title != "" {
		fmt.Fprintf(&ctxBlock, "Document: %s\n\n", title)
	}
	switch {
	case len(req.Chunks) > 0:
		for i, c := range req.Chunks {
			fmt.Fprintf(&ctxBlock, "[Section %d] (relevance %.2f)\n%s\n\n", i+1, c.Score, strings.TrimSpace(c.Text))
		}
	case strings.TrimSpace(req.DocumentContent) != "":
		ctxBlock.WriteString(fallbackContextNote)
		ctxBlock.WriteString("\n\n")
		ctxBlock.WriteString(strings.TrimSpace(req.DocumentContent))
		ctxBlock.WriteString("\n\n")
	}

	messages := make([]chatMessage, 0, 2+2*maxHistoryPairs+1)
	messages = append(messages, chatMessage{
		Role:    "system",
		Content: answerSystemPrompt + "\n\n" + strings.TrimSpace(ctxBlock.String()),
	})

	history := req.History
	if len(history) > maxHistoryPairs {
		history = history[len(history)-maxHistoryPairs:]
	}
	for _, qa := range history {
		messages = append(messages,
			chatMessage{Role: "user", Content: qa.Question},
			chatMessage{Role: "assistant", Content: qa.Answer},
		)
	}
	return append(messages, chatMessage{Role: "user", Content: req.Question})
}

func summaryInstruction(length SummaryLength) string {
	switch length {
	case SummaryShort:
		return "Write a summary of the document in 2 to 3 sentences."
	case SummaryLong:
		return "Write a detailed summary of the document in 4 to 6 paragraphs, covering every major section."
	default:
		return "Write a summary of the document in 1 to 2 paragraphs."
	}
}

func buildSummaryMessages(title, content string, length SummaryLength) []chatMessage {
	var b strings.Builder
	b.WriteString(summaryInstruction(length))
	if t := strings.TrimSpace(title); t != "" {
		fmt.Fprintf(&b, "\n\nDocument: %s", t)
	}
	b.WriteString("\n\n")
	b.WriteString(strings.TrimSpace(content))
	return []chatMessage{
		{Role: "system", Content: "You summarize documents faithfully. Never invent facts that are not in the text."},
		{Role: "user", Content: b.String()},
	}
}
