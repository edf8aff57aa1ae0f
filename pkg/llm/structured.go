package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// structuredInstruction is appended to every structured prompt so the model
// answers with machine-readable output.
const structuredInstruction = "\n\n回答は次のJSONスキーマに厳密に従う単一のJSONオブジェクトのみで出力してください。説明文やコードフェンスは不要です。\nSchema:\n"

// GenerateStructured implements Client.
func (c *OpenAIClient) GenerateStructured(ctx context.Context, prompt string, schemaJSON string, out any) error {
	text, err := c.generateWithRetry(ctx, "generate_structured", prompt+structuredInstruction+schemaJSON)
	if err != nil {
		return err
	}
	return ParseStructured(text, schemaJSON, out)
}

// ParseStructured parses raw model output as JSON, attempting one repair
// pass on malformed text, validates it against schemaJSON, and unmarshals
// into out. Parse or validation failures after a successful HTTP response
// are terminal — they are never retried against the LLM.
func ParseStructured(text, schemaJSON string, out any) error {
	raw := []byte(strings.TrimSpace(text))

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		// Repair pass: models often wrap the object in prose or fences.
		block, ok := extractBraceBlock(string(raw))
		if !ok {
			return fmt.Errorf("llm response is not valid JSON: %w", err)
		}
		raw = []byte(block)
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return fmt.Errorf("llm response is not valid JSON after repair: %w", err)
		}
	}

	schema, err := jsonschema.CompileString("response.schema.json", schemaJSON)
	if err != nil {
		return fmt.Errorf("compile response schema: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("llm response failed schema validation: %w", err)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode llm response: %w", err)
	}
	return nil
}

// extractBraceBlock returns the first balanced top-level {…} block,
// scanning non-greedily and honoring JSON string escapes.
func extractBraceBlock(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
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
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
