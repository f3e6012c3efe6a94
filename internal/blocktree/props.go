// Package blocktree builds nested block trees from flat, position-ordered
// block sets and flattens edited trees back for persistence.
package blocktree

import (
	"encoding/json"
	"fmt"

	"leaflet/api/internal/store"
)

const (
	TypeText      = "text"
	TypeTodo      = "todo"
	TypeList      = "list"
	TypePage      = "page"
	TypeHeading   = "heading"
	TypeParagraph = "paragraph"
	TypeQuote     = "quote"
	TypeCode      = "code"
)

var blockTypes = map[string]struct{}{
	TypeText:      {},
	TypeTodo:      {},
	TypeList:      {},
	TypePage:      {},
	TypeHeading:   {},
	TypeParagraph: {},
	TypeQuote:     {},
	TypeCode:      {},
}

func ValidType(blockType string) bool {
	_, ok := blockTypes[blockType]
	return ok
}

// Properties is the type-specific payload of a block. Each block type maps to
// exactly one variant; types without extra fields use EmptyProps.
type Properties interface {
	isProperties()
}

type HeadingProps struct {
	Level int `json:"level"`
}

type CodeProps struct {
	Language string `json:"language,omitempty"`
}

type EmptyProps struct{}

func (HeadingProps) isProperties() {}
func (CodeProps) isProperties()    {}
func (EmptyProps) isProperties()   {}

// DecodeProperties validates the raw properties payload against the block
// type and returns the typed variant.
func DecodeProperties(blockType string, raw string) (Properties, error) {
	if !ValidType(blockType) {
		return nil, fmt.Errorf("unknown block type %q", blockType)
	}
	if raw == "" {
		raw = "{}"
	}
	switch blockType {
	case TypeHeading:
		var props HeadingProps
		if err := json.Unmarshal([]byte(raw), &props); err != nil {
			return nil, fmt.Errorf("decode heading properties: %w", err)
		}
		if props.Level < 1 || props.Level > 6 {
			return nil, fmt.Errorf("heading level must be between 1 and 6, got %d", props.Level)
		}
		return props, nil
	case TypeCode:
		var props CodeProps
		if err := json.Unmarshal([]byte(raw), &props); err != nil {
			return nil, fmt.Errorf("decode code properties: %w", err)
		}
		return props, nil
	default:
		var probe map[string]json.RawMessage
		if err := json.Unmarshal([]byte(raw), &probe); err != nil {
			return nil, fmt.Errorf("decode properties: %w", err)
		}
		return EmptyProps{}, nil
	}
}

// EncodeProperties renders a typed variant back to its stored JSON form.
func EncodeProperties(props Properties) (string, error) {
	if props == nil {
		props = EmptyProps{}
	}
	encoded, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("encode properties: %w", err)
	}
	return string(encoded), nil
}

// ValidateDone rejects the done flag on anything but a todo block.
func ValidateDone(blockType string, done *bool) error {
	if done != nil && blockType != TypeTodo {
		return fmt.Errorf("done is only valid on %s blocks", TypeTodo)
	}
	return nil
}

func normalizedProperties(block store.Block) string {
	if block.Properties == "" {
		return "{}"
	}
	return block.Properties
}
