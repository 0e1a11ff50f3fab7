package framework

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ToolCallSentinel introduces a tool call inside free-form model output.
const ToolCallSentinel = "TOOL_CALL:"

// ToolCallRequest is one parsed invocation request.
type ToolCallRequest struct {
	ToolName  string
	Arguments map[string]interface{}
}

// RenderToolsToPrompt converts tool descriptors into the text block the model
// sees in its system context. Order follows the slice, which callers take
// from ToolRegistry.DescribeAll.
func RenderToolsToPrompt(tools []ToolDescriptor) string {
	if len(tools) == 0 {
		return "No tools available."
	}
	var b strings.Builder
	b.WriteString("You have access to the following tools:\n\n")
	for _, tool := range tools {
		b.WriteString(fmt.Sprintf("## %s\n", tool.Name))
		b.WriteString(fmt.Sprintf("%s\n", tool.Description))
		b.WriteString("Parameters:\n")
		if len(tool.Parameters) == 0 {
			b.WriteString("  (none)\n")
		} else {
			for _, param := range tool.Parameters {
				req := "optional"
				if param.Required {
					req = "required"
				}
				b.WriteString(fmt.Sprintf("  - %s (%s, %s): %s\n", param.Name, param.Type, req, param.Description))
			}
		}
		b.WriteString("\n")
	}
	b.WriteString("To use a tool, respond with a single line in exactly this format:\n")
	b.WriteString(ToolCallSentinel + ` {"name": "tool_name", "parameters": {"param": "value"}}` + "\n\n")
	b.WriteString("Call at most one tool per response. After receiving the tool result, continue with your answer.\n")
	return b.String()
}

// IsToolCall is the cheap check run before a full parse.
func IsToolCall(text string) bool {
	return strings.Contains(text, ToolCallSentinel)
}

// ParseToolCall extracts the first tool call following the sentinel. Anything
// after the payload is ignored, including further sentinels. A malformed
// payload or one without a name yields ok=false.
func ParseToolCall(text string) (*ToolCallRequest, bool) {
	idx := strings.Index(text, ToolCallSentinel)
	if idx < 0 {
		return nil, false
	}
	payload := strings.TrimSpace(text[idx+len(ToolCallSentinel):])
	payload = trimFence(payload)
	if !strings.HasPrefix(payload, "{") {
		return nil, false
	}
	dec := json.NewDecoder(strings.NewReader(payload))
	var raw struct {
		Name       string          `json:"name"`
		Tool       string          `json:"tool"`
		Parameters json.RawMessage `json:"parameters"`
		Arguments  json.RawMessage `json:"arguments"`
		Args       json.RawMessage `json:"args"`
	}
	if err := dec.Decode(&raw); err != nil {
		return nil, false
	}
	name := strings.TrimSpace(raw.Name)
	if name == "" {
		name = strings.TrimSpace(raw.Tool)
	}
	if name == "" {
		return nil, false
	}
	args, ok := normalizeArguments(firstNonEmpty(raw.Parameters, raw.Arguments, raw.Args))
	if !ok {
		return nil, false
	}
	return &ToolCallRequest{ToolName: name, Arguments: args}, true
}

// trimFence drops an opening ```json or ``` fence so fenced payloads parse.
func trimFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.HasPrefix(strings.TrimSpace(s[:nl]), "{") {
		s = s[nl+1:]
	}
	return strings.TrimSpace(s)
}

func firstNonEmpty(values ...json.RawMessage) json.RawMessage {
	for _, v := range values {
		trimmed := strings.TrimSpace(string(v))
		if trimmed != "" && trimmed != "null" {
			return v
		}
	}
	return nil
}

// normalizeArguments accepts an object or a string holding a JSON object.
func normalizeArguments(raw json.RawMessage) (map[string]interface{}, bool) {
	if raw == nil {
		return map[string]interface{}{}, true
	}
	var args map[string]interface{}
	if err := json.Unmarshal(raw, &args); err == nil {
		if args == nil {
			args = map[string]interface{}{}
		}
		return args, true
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, false
	}
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return map[string]interface{}{}, true
	}
	if err := json.Unmarshal([]byte(encoded), &args); err != nil || args == nil {
		return nil, false
	}
	return args, true
}
