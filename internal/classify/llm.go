package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/hearthwatch/hearthwatch/pkg/llm"
	"github.com/hearthwatch/hearthwatch/pkg/models"
	"go.uber.org/zap"
)

// llmAnswer is the JSON shape the prompt asks the model to emit.
type llmAnswer struct {
	Manufacturer string  `json:"manufacturer"`
	DeviceType   string  `json:"device_type"`
	Model        string  `json:"model,omitempty"`
	Confidence   float64 `json:"confidence"`
}

// classifyLLM asks the configured chat endpoint to identify the device.
// Any network, parse, or schema failure is logged and swallowed; the
// chain then proceeds to the graceful fallback.
func (c *Classifier) classifyLLM(ctx context.Context, sig Signals) (Result, bool) {
	resp, err := c.provider.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: llmSystemPrompt()},
		{Role: llm.RoleUser, Content: llmUserPrompt(sig)},
	}, llm.WithModel(c.model), llm.WithTemperature(0.1))
	if err != nil {
		c.logger.Warn("llm classification unavailable", zap.Error(err))
		return Result{}, false
	}

	answer, err := parseLLMAnswer(resp.Content)
	if err != nil {
		c.logger.Warn("llm classification unparseable", zap.Error(err))
		return Result{}, false
	}

	dt := models.DeviceType(strings.ToLower(strings.TrimSpace(answer.DeviceType)))
	if !validDeviceType(dt) {
		c.logger.Warn("llm returned unrecognized device type", zap.String("device_type", answer.DeviceType))
		return Result{}, false
	}
	conf := answer.Confidence
	if conf <= 0 || conf > 1 {
		conf = 0.50
	}

	return Result{
		Manufacturer: answer.Manufacturer,
		DeviceType:   dt,
		Model:        answer.Model,
		Confidence:   conf,
		Source:       SourceLLM,
	}, true
}

func llmSystemPrompt() string {
	types := models.DeviceTypes()
	tokens := make([]string, len(types))
	for i, t := range types {
		tokens[i] = string(t)
	}
	return "You identify devices on a home network from their network signals. " +
		"Answer with a single JSON object: " +
		`{"manufacturer": string, "device_type": string, "model": string, "confidence": number between 0 and 1}. ` +
		"device_type must be one of: " + strings.Join(tokens, ", ") + ". " +
		"No prose outside the JSON object."
}

func llmUserPrompt(sig Signals) string {
	var b strings.Builder
	b.WriteString("Identify this device.\n")
	if sig.MAC != "" {
		fmt.Fprintf(&b, "MAC address: %s\n", sig.MAC)
	}
	if sig.MDNSHostname != "" {
		fmt.Fprintf(&b, "mDNS hostname: %s\n", sig.MDNSHostname)
	}
	if sig.Hostname != "" {
		fmt.Fprintf(&b, "Hostname: %s\n", sig.Hostname)
	}
	if len(sig.OpenPorts) > 0 {
		fmt.Fprintf(&b, "Open TCP ports: %v\n", sig.OpenPorts)
	}
	if sig.DHCPHash != "" {
		fmt.Fprintf(&b, "DHCP fingerprint hash: %s\n", sig.DHCPHash)
	}
	return b.String()
}

var thinkBlockRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// parseLLMAnswer extracts the first JSON object from a model response,
// tolerating <think>...</think> blocks and markdown code fences.
func parseLLMAnswer(content string) (*llmAnswer, error) {
	s := thinkBlockRe.ReplaceAllString(content, "")
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, fmt.Errorf("no JSON object in response")
	}

	// Walk to the matching close brace, respecting strings.
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				var answer llmAnswer
				if err := json.Unmarshal([]byte(s[start:i+1]), &answer); err != nil {
					return nil, fmt.Errorf("decode answer: %w", err)
				}
				if answer.DeviceType == "" {
					return nil, fmt.Errorf("answer missing device_type")
				}
				return &answer, nil
			}
		}
	}
	return nil, fmt.Errorf("unterminated JSON object in response")
}

func validDeviceType(dt models.DeviceType) bool {
	for _, t := range models.DeviceTypes() {
		if t == dt {
			return true
		}
	}
	return false
}
