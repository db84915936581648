package notes

import "github.com/google/uuid"

const (
	textBlockIDPrefix  = "text-"
	imageBlockIDPrefix = "img-"
)

// IDProvider issues collision-resistant identifiers.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// NewBlockID issues an identifier for a block of the given type.
func NewBlockID(provider IDProvider, blockType BlockType) (string, error) {
	value, err := provider.NewID()
	if err != nil {
		return "", err
	}
	if blockType == BlockTypeImage {
		return imageBlockIDPrefix + value, nil
	}
	return textBlockIDPrefix + value, nil
}

// NewTextBlock creates a text block with a fresh identifier.
func NewTextBlock(provider IDProvider, content string) (TextBlock, error) {
	blockID, err := NewBlockID(provider, BlockTypeText)
	if err != nil {
		return TextBlock{}, err
	}
	return TextBlock{ID: blockID, Content: content}, nil
}
