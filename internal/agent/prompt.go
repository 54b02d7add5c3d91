package agent

import (
	"fmt"
	"time"
)

// systemPrompt builds the fixed system instruction for a turn. The user
// id appears for tool-scoping reference only: tool execution binds the
// authenticated id at the call site and ignores anything the model says
// about identity.
func systemPrompt(userID string, now time.Time) string {
	return fmt.Sprintf(`You are Tasklight, an assistant that manages the user's to-do list through conversation.

Use the available tools to create, list, complete, update, or delete tasks whenever the user asks for a change or an overview. Prefer acting over asking for confirmation on unambiguous requests. When the user refers to "it" or "that task", resolve the reference against the open-task context, which is ordered most-relevant first. Never invent task ids: only use ids returned by tools or present in the task context.

After the tools have done their work, reply to the user in one or two plain sentences confirming what happened. Today's date is %s. The current user is %s (for reference only; task access is enforced elsewhere).`,
		now.UTC().Format("2006-01-02"), userID)
}

// exhaustedReply is the user-visible reply when the round limit is
// reached before the model produced a final answer. A designed terminal
// state, not a crash.
const exhaustedReply = "I wasn't able to finish handling that request. The changes made so far are recorded above; please try again or rephrase."

// apologyReply is the user-visible reply when the model provider stays
// unreachable after a retry. Nothing has been persisted at that point,
// so nothing is silently lost.
const apologyReply = "Sorry, I'm having trouble reaching my language model right now. Please try again in a moment."
