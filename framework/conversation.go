package framework

import (
	"fmt"
	"strings"
)

// TurnKind tags a conversation entry.
type TurnKind string

const (
	TurnSystem      TurnKind = "system"
	TurnPrompt      TurnKind = "prompt"
	TurnResponse    TurnKind = "response"
	TurnObservation TurnKind = "observation"
)

// Turn is one entry in a conversation.
type Turn struct {
	Kind    TurnKind
	Content string
	Tool    string
	Success bool
}

// Conversation is the append-only context of one orchestrator run.
type Conversation struct {
	turns []Turn
}

// NewConversation seeds a conversation with an optional system block and the
// user prompt.
func NewConversation(system, prompt string) *Conversation {
	c := &Conversation{}
	if strings.TrimSpace(system) != "" {
		c.turns = append(c.turns, Turn{Kind: TurnSystem, Content: system})
	}
	c.turns = append(c.turns, Turn{Kind: TurnPrompt, Content: prompt})
	return c
}

// AppendResponse records a model response.
func (c *Conversation) AppendResponse(text string) {
	c.turns = append(c.turns, Turn{Kind: TurnResponse, Content: text})
}

// AppendObservation records a tool outcome.
func (c *Conversation) AppendObservation(tool string, outcome ToolOutcome) {
	c.turns = append(c.turns, Turn{
		Kind:    TurnObservation,
		Tool:    tool,
		Content: ObservationText(tool, outcome),
		Success: outcome.Success,
	})
}

// Turns returns a copy of the entries.
func (c *Conversation) Turns() []Turn {
	return append([]Turn(nil), c.turns...)
}

// Len returns the number of turns.
func (c *Conversation) Len() int { return len(c.turns) }

// Render flattens the conversation into the prompt sent to the backend.
func (c *Conversation) Render() string {
	var b strings.Builder
	for i, turn := range c.turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch turn.Kind {
		case TurnSystem, TurnPrompt:
			b.WriteString(turn.Content)
		case TurnResponse:
			b.WriteString("Assistant: ")
			b.WriteString(turn.Content)
		case TurnObservation:
			b.WriteString(turn.Content)
		}
	}
	return b.String()
}

// ObservationText is the text fed back to the model after a tool runs.
func ObservationText(tool string, outcome ToolOutcome) string {
	return fmt.Sprintf("Tool '%s' returned:\n%s\n\nNow provide your response based on this information.", tool, outcome.Text)
}
