package model

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON encodes a Message while preserving the concrete Part types
// stored in Parts. Each part is encoded with a "type" discriminator field so
// round-tripping through JSON doesn't lose type information. Re-encoding
// a decoded message is byte-identical as long as the discriminator
// ordering below stays stable.
func (m Message) MarshalJSON() ([]byte, error) {
	type alias Message
	raw := struct {
		alias
		Parts []json.RawMessage `json:"parts"`
	}{alias: alias(m)}

	raw.Parts = make([]json.RawMessage, len(m.Parts))
	for i, p := range m.Parts {
		enc, err := encodePart(p)
		if err != nil {
			return nil, fmt.Errorf("model: encode part %d: %w", i, err)
		}
		raw.Parts[i] = enc
	}
	return json.Marshal(raw)
}

// UnmarshalJSON decodes a Message, dispatching each part to its concrete
// type based on the "type" discriminator.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	raw := struct {
		alias
		Parts []json.RawMessage `json:"parts"`
	}{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Message(raw.alias)
	m.Parts = make([]Part, len(raw.Parts))
	for i, enc := range raw.Parts {
		p, err := decodePart(enc)
		if err != nil {
			return fmt.Errorf("model: decode part %d: %w", i, err)
		}
		m.Parts[i] = p
	}
	return nil
}

func encodePart(p Part) (json.RawMessage, error) {
	type wire struct {
		Type string `json:"type"`
		Data any    `json:"data"`
	}
	return json.Marshal(wire{Type: p.Kind(), Data: p})
}

func decodePart(raw json.RawMessage) (Part, error) {
	var head struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case "text":
		var p TextPart
		if err := json.Unmarshal(head.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case "reasoning":
		var p ReasoningPart
		if err := json.Unmarshal(head.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case "image":
		var p ImagePart
		if err := json.Unmarshal(head.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case "tool-call":
		var p ToolCallPart
		if err := json.Unmarshal(head.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case "tool-result":
		var p ToolResultPart
		if err := json.Unmarshal(head.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("model: unknown part type %q", head.Type)
	}
}
