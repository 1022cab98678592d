package chat

import (
	"encoding/json"
	"strings"

	"github.com/mohammad-safakhou/ragchat/internal/store"
	"github.com/mohammad-safakhou/ragchat/internal/vectorindex"
	"github.com/mohammad-safakhou/ragchat/provider"
)

const questionPrefix = "Current question: "

// buildMessages lays out the prompt: prior turns oldest first, the current
// question, then the system prompt carrying the retrieved segments last.
func (o *Orchestrator) buildMessages(prior []store.Turn, question string, matches []vectorindex.Match) []provider.Message {
	msgs := make([]provider.Message, 0, len(prior)+2)
	for i := len(prior) - 1; i >= 0; i-- {
		t := prior[i]
		role := provider.RoleUser
		if t.Role == store.RoleAI {
			role = provider.RoleAssistant
		}
		msgs = append(msgs, provider.Message{Role: role, Content: turnText(t)})
	}
	msgs = append(msgs, provider.Message{Role: provider.RoleUser, Content: questionPrefix + question})
	msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: o.systemPrompt(matches)})
	return msgs
}

func (o *Orchestrator) systemPrompt(matches []vectorindex.Match) string {
	return o.opts.SystemPrompt + strings.Join(contextTexts(matches), ",")
}

func contextTexts(matches []vectorindex.Match) []string {
	texts := make([]string, len(matches))
	for i, m := range matches {
		texts[i] = m.Text
	}
	return texts
}

// turnText returns what a user said in a turn. User turns store the whole
// request as JSON; anything that does not decode is used verbatim.
func turnText(t store.Turn) string {
	if t.Role != store.RoleUser {
		return t.Content
	}
	var req Request
	if err := json.Unmarshal([]byte(t.Content), &req); err != nil || req.Message == "" {
		return t.Content
	}
	return req.Message
}
