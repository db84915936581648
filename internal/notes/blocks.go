package notes

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// BlockType discriminates content block variants.
type BlockType string

const (
	// BlockTypeText identifies a TextBlock.
	BlockTypeText BlockType = "text"
	// BlockTypeImage identifies an ImageBlock.
	BlockTypeImage BlockType = "image"
)

var (
	// ErrInvalidBlock indicates that a block is missing an id or has an unknown type.
	ErrInvalidBlock = errors.New("notes: invalid content block")
	// ErrDuplicateBlockID indicates that two blocks in one note share an id.
	ErrDuplicateBlockID = errors.New("notes: duplicate block id")
	// ErrBlockNotFound indicates that no block carries the requested id.
	ErrBlockNotFound = errors.New("notes: block not found")
)

// ContentBlock is one unit of note content. The only implementations are
// TextBlock and ImageBlock.
type ContentBlock interface {
	BlockID() string
	BlockType() BlockType
	isContentBlock()
}

// TextBlock holds editable text.
type TextBlock struct {
	ID      string
	Content string
}

// BlockID returns the block identifier.
func (block TextBlock) BlockID() string { return block.ID }

// BlockType returns BlockTypeText.
func (block TextBlock) BlockType() BlockType { return BlockTypeText }

func (TextBlock) isContentBlock() {}

// ImageBlock holds a self-contained encoded image (a data URL).
type ImageBlock struct {
	ID      string
	DataURL string
	Alt     string
	Width   *float64
	Height  *float64
}

// BlockID returns the block identifier.
func (block ImageBlock) BlockID() string { return block.ID }

// BlockType returns BlockTypeImage.
func (block ImageBlock) BlockType() BlockType { return BlockTypeImage }

func (ImageBlock) isContentBlock() {}

type blockWire struct {
	Type    BlockType `json:"type"`
	ID      string    `json:"id"`
	Content *string   `json:"content,omitempty"`
	DataURL string    `json:"dataUrl,omitempty"`
	Alt     string    `json:"alt,omitempty"`
	Width   *float64  `json:"width,omitempty"`
	Height  *float64  `json:"height,omitempty"`
}

// Blocks is the ordered content of a note.
type Blocks []ContentBlock

// MarshalJSON encodes the blocks with their "type" discriminator.
func (blocks Blocks) MarshalJSON() ([]byte, error) {
	wires := make([]blockWire, 0, len(blocks))
	for _, block := range blocks {
		switch typed := block.(type) {
		case TextBlock:
			content := typed.Content
			wires = append(wires, blockWire{Type: BlockTypeText, ID: typed.ID, Content: &content})
		case ImageBlock:
			wires = append(wires, blockWire{
				Type:    BlockTypeImage,
				ID:      typed.ID,
				DataURL: typed.DataURL,
				Alt:     typed.Alt,
				Width:   typed.Width,
				Height:  typed.Height,
			})
		default:
			return nil, fmt.Errorf("%w: unsupported block %T", ErrInvalidBlock, block)
		}
	}
	return json.Marshal(wires)
}

// UnmarshalJSON decodes a block array, rejecting unknown block types.
func (blocks *Blocks) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*blocks = Blocks{}
		return nil
	}
	var wires []blockWire
	if err := json.Unmarshal(data, &wires); err != nil {
		return err
	}
	decoded := make(Blocks, 0, len(wires))
	for index, wire := range wires {
		switch wire.Type {
		case BlockTypeText:
			content := ""
			if wire.Content != nil {
				content = *wire.Content
			}
			decoded = append(decoded, TextBlock{ID: wire.ID, Content: content})
		case BlockTypeImage:
			decoded = append(decoded, ImageBlock{
				ID:      wire.ID,
				DataURL: wire.DataURL,
				Alt:     wire.Alt,
				Width:   wire.Width,
				Height:  wire.Height,
			})
		default:
			return fmt.Errorf("%w: block %d has type %q", ErrInvalidBlock, index, wire.Type)
		}
	}
	*blocks = decoded
	return nil
}

// Clone copies the slice; block values are immutable once stored.
func (blocks Blocks) Clone() Blocks {
	if blocks == nil {
		return nil
	}
	return append(Blocks(nil), blocks...)
}

// Text concatenates the content of every text block with the separator.
func (blocks Blocks) Text(separator string) string {
	parts := make([]string, 0, len(blocks))
	for _, block := range blocks {
		switch typed := block.(type) {
		case TextBlock:
			parts = append(parts, typed.Content)
		case ImageBlock:
		}
	}
	return strings.Join(parts, separator)
}

// Index returns the position of the block with the given id, or -1.
func (blocks Blocks) Index(blockID string) int {
	for index, block := range blocks {
		if block.BlockID() == blockID {
			return index
		}
	}
	return -1
}

// HasImages reports whether any block is an image.
func (blocks Blocks) HasImages() bool {
	for _, block := range blocks {
		if _, ok := block.(ImageBlock); ok {
			return true
		}
	}
	return false
}

// Validate checks that every block has a non-empty id that is unique within the note.
func (blocks Blocks) Validate() error {
	seen := make(map[string]struct{}, len(blocks))
	for index, block := range blocks {
		if block == nil {
			return fmt.Errorf("%w: block %d is nil", ErrInvalidBlock, index)
		}
		blockID := block.BlockID()
		if strings.TrimSpace(blockID) == "" {
			return fmt.Errorf("%w: block %d has empty id", ErrInvalidBlock, index)
		}
		if _, exists := seen[blockID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateBlockID, blockID)
		}
		seen[blockID] = struct{}{}
	}
	return nil
}
