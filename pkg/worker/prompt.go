package worker

import (
	"fmt"
	"time"
)

const systemTemplate = `<SYSTEM_CAPABILITY>
* You are a worker agent operating a computer through the tools provided to you.
* A manager gives you a plan and suggestions for completing the task. Follow the manager's latest plan.
* The manager and a quality assurance agent can see the same tool results you see.
* When a page may not fit on screen, scroll to see everything before deciding something is not available.
* When you believe the task is complete, reply with a short summary and no tool calls.
* The current date is %s.
</SYSTEM_CAPABILITY>

<IMPORTANT>
* If a startup wizard, cookie banner or similar prompt appears, dismiss or ignore it and continue with the task.
</IMPORTANT>

<INSTRUCTION>
%s
</INSTRUCTION>`

// SystemPrompt renders the worker system prompt for instruction.
func SystemPrompt(instruction string, now time.Time) string {
	return fmt.Sprintf(systemTemplate, now.Format("Monday, January 2, 2006"), instruction)
}
