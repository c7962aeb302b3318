package manager

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/harun/triad/pkg/conversation"
)

const systemTemplate = `<SYSTEM_CAPABILITY>
* You manage two agents: a worker agent that operates a computer through tools, and a quality assurance agent that reviews the worker's output.
* You can see the same tool results as the agents.
* You evaluate the goal and the progress of the agents and decide what the worker should do next.
* When you are not sure what the worker should do next, you can ask it to search the web for relevant information.
* The current date is %s.
</SYSTEM_CAPABILITY>

<IMPORTANT>
* Do not use any tools. Provide a plan in plain text for the worker agent.
</IMPORTANT>

<INSTRUCTION>
%s
</INSTRUCTION>`

const (
	initialPlanPrompt = "Given the INSTRUCTION and context, please provide a plan for the agent to complete the task. Please do not use any tools."

	revisedPlanPrompt = "Given the INSTRUCTION, previous steps, and the previous plan, please adjust the plan for the agent to continue completing the task. " +
		"Please do not use any tools. If the worker agent is stuck, you can ask the worker agent to search for relevant information on the web."

	reportPrompt = "Given the INSTRUCTION, what the worker agent has done, and the QA agent's assessment (if any), " +
		"please generate a short report on what has been done and whether the goal has been achieved."
)

const querySystemPrompt = `You advise a manager agent that supervises a worker agent on a task.
An external knowledge source can answer questions about the task domain.
Decide whether asking the knowledge source a question would help the worker make progress now.
Respond with a JSON object with exactly these keys:
  "needs_query": boolean, true if a question should be asked.
  "query": string, the question to ask, or "" if none.`

const humanSystemPrompt = `You advise a manager agent that supervises a worker agent on a task.
The agent has consulted an external knowledge source.
Decide whether the task is blocked on information only the human user can provide, such as credentials, personal preferences or approval.
Respond with a JSON object with exactly these keys:
  "needs_human": boolean, true if the human user must be asked.
  "question": string, the question for the human user, or "" if none.`

const (
	digestEntries  = 10
	digestEntryMax = 500
)

// SystemPrompt renders the manager system prompt for instruction.
func SystemPrompt(instruction string, now time.Time) string {
	return fmt.Sprintf(systemTemplate, now.Format("Monday, January 2, 2006"), instruction)
}

// withKnowledge appends the knowledge exchange summary to a planning prompt.
func withKnowledge(prompt, summary string) string {
	if summary == "" {
		return prompt
	}
	return prompt + "\n\nHere is what was learned from the knowledge source:\n" + summary
}

func decisionPrompt(instruction, summary, digest string) string {
	if summary == "" {
		summary = "(none)"
	}
	if digest == "" {
		digest = "(nothing yet)"
	}
	return fmt.Sprintf("Task:\n%s\n\nKnowledge gathered so far:\n%s\n\nRecent progress:\n%s\n\nAnswer in JSON.", instruction, summary, digest)
}

// escalationPrompt is decisionPrompt plus a note when the knowledge source
// left the last question open.
func escalationPrompt(instruction, summary, digest string, unanswered bool) string {
	prompt := decisionPrompt(instruction, summary, digest)
	if unanswered {
		prompt += "\n\nThe knowledge source could not fully answer the last question."
	}
	return prompt
}

// progressDigest renders the latest text turns of the history, oldest first.
func progressDigest(msgs []conversation.Message) string {
	var entries []string
	for i := len(msgs) - 1; i >= 0 && len(entries) < digestEntries; i-- {
		text := strings.TrimSpace(msgs[i].Text())
		if text == "" {
			continue
		}
		if len(text) > digestEntryMax {
			text = clip(text, digestEntryMax) + "..."
		}
		entries = append(entries, fmt.Sprintf("%s: %s", msgs[i].Role, text))
	}
	for l, r := 0, len(entries)-1; l < r; l, r = l+1, r-1 {
		entries[l], entries[r] = entries[r], entries[l]
	}
	return strings.Join(entries, "\n")
}

// clip cuts s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
