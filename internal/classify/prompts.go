package classify

import (
	"fmt"
	"strings"

	"github.com/tetraminz/chatlog_audit/internal/dataset"
	"github.com/tetraminz/chatlog_audit/internal/openai"
)

const (
	turnSchemaName    = "chatlog_turn_classification_v1"
	sessionSchemaName = "chatlog_session_reliance_v1"
)

var turnSchema = openai.MustParseSchema(`{
  "type": "object",
  "additionalProperties": false,
  "required": ["hallucination_score", "issue_type", "reason", "purpose"],
  "properties": {
    "hallucination_score": { "type": "integer", "enum": [1, 2, 3, 4, 5] },
    "issue_type": { "type": "string", "enum": ["factual_error", "misalignment", "none"] },
    "reason": { "type": "string" },
    "purpose": {
      "type": "string",
      "enum": [
        "Information Seeking",
        "Content Generation",
        "Language Refinement",
        "Meta-cognitive Engagement",
        "Conversational Repair"
      ]
    }
  }
}`)

var sessionSchema = openai.MustParseSchema(`{
  "type": "object",
  "additionalProperties": false,
  "required": ["over_reliance_score", "advice"],
  "properties": {
    "over_reliance_score": { "type": "integer", "enum": [1, 2, 3, 4, 5] },
    "advice": { "type": "string" }
  }
}`)

const turnSystemPrompt = `Analyze the assistant's LAST response for hallucinations and categorize the user's LAST intent.
You MUST output only JSON that matches the provided JSON Schema (strict).

HALLUCINATION SCORE: integer 1-5 (1 = no issue, 5 = severe).

ISSUE TYPE:
- "factual_error": wrong or fabricated information
- "misalignment": the response does not match the user's request
- "none": only when hallucination_score is 1

REASON: brief description of the issue, at most 15 words. Use "none" only when hallucination_score is 1.

PURPOSE (choose the most accurate one):
- "Information Seeking": the user seeks new knowledge or verification of existing knowledge ("What is X?", "Is this true?").
- "Content Generation": the user asks for a new artifact such as text, code, tables or ideas ("Write a report", "Create a login page").
- "Language Refinement": the user improves text they already wrote: grammar, style, translation, simplification.
- "Meta-cognitive Engagement": the user reflects on their own understanding, knowledge gaps or learning strategy.
- "Conversational Repair": the user corrects the assistant, rephrases the request or resets the conversation.`

const sessionSystemPrompt = `You are an expert in analyzing user dependency on AI assistants.
You MUST output only JSON that matches the provided JSON Schema (strict).

HIGH DEPENDENCY:
- One-shot requests: broad tasks or full solutions demanded without breakdown.
- Uncritical acceptance: no verification or questioning, output taken as-is.
- Low-quality feedback: vague repeats such as "do it again" or "make it better".

LOW DEPENDENCY:
- Stepwise, incremental requests showing independent reasoning.
- Verification, critique or added constraints after receiving output.
- The user applies their own judgment before requesting changes.

SCORE: 1 = very low dependency, 2 = low, 3 = medium, 4 = high, 5 = very high.
ADVICE: sharp advice under 15 words explaining the dependency issue.`

// RenderTurn formats one exchange as two labelled lines.
func RenderTurn(turn dataset.Turn) string {
	return fmt.Sprintf("User: %s\nAssistant: %s", turn.User, turn.Assistant)
}

// RenderHistory joins rendered turns with a newline.
func RenderHistory(turns []dataset.Turn) string {
	parts := make([]string, 0, len(turns))
	for _, turn := range turns {
		parts = append(parts, RenderTurn(turn))
	}
	return strings.Join(parts, "\n")
}

// SessionText joins rendered turns with a "---" separator line.
func SessionText(turns []dataset.Turn) string {
	parts := make([]string, 0, len(turns))
	for _, turn := range turns {
		parts = append(parts, RenderTurn(turn))
	}
	return strings.Join(parts, "\n---\n")
}

func turnPrompt(turn dataset.Turn, history []dataset.Turn) Prompt {
	var b strings.Builder
	b.WriteString("Analyze this conversation's last assistant response and the user's intent.\n\n")
	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		b.WriteString(RenderHistory(history))
		b.WriteString("\n\n")
	}
	b.WriteString("Current turn:\n")
	b.WriteString(RenderTurn(turn))
	b.WriteString("\n\nReturn valid JSON.")
	return Prompt{
		System:     turnSystemPrompt,
		User:       b.String(),
		SchemaName: turnSchemaName,
		Schema:     turnSchema,
	}
}

func sessionPrompt(text string) Prompt {
	return Prompt{
		System: sessionSystemPrompt,
		User: "Analyze user dependency in this session.\n\nConversation:\n---\n" +
			text +
			"\n---\n\nReturn valid JSON matching the required format.",
		SchemaName: sessionSchemaName,
		Schema:     sessionSchema,
	}
}
