package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/notepro/internal/notes"
)

const (
	// MissingAPIKeyMessage is the user-facing text for ErrMissingAPIKey.
	MissingAPIKeyMessage = "API key is required. Please add your API key in settings."
	// DefaultSystemMessage opens free-form assistant conversations.
	DefaultSystemMessage = "You are an AI assistant integrated into NotePro, a note-taking application. Help users write, edit, and format their notes. You can also answer general questions."

	noteEditingSystemMessage = "You are an AI assistant helping with note editing. You will be given note content and instructions on how to modify it. Return ONLY the modified content without explanations or additional text."
	noteEditingUserTemplate  = "Here is my note content:\n\n%s\n\nInstruction: %s\n\nModify the content based on the instruction and return only the result."
)

var (
	// ErrMissingAPIKey is returned when neither a stored nor a built-in key is available.
	ErrMissingAPIKey = errors.New("ai: API key is required")
	// ErrEmptyInstruction is returned for a blank instruction.
	ErrEmptyInstruction = errors.New("instruction is required")
	// ErrCompletionFailed wraps an unsuccessful completion.
	ErrCompletionFailed = errors.New("ai: completion failed")

	errMissingCompleter = errors.New("completer is required")
	errMissingKeys      = errors.New("key source is required")
)

// KeySource exposes the user's key preferences.
type KeySource interface {
	APIKey(ctx context.Context) string
	UseBuiltinKey(ctx context.Context) bool
}

// ProcessorConfig describes the dependencies of a Processor.
type ProcessorConfig struct {
	Completer  Completer
	Keys       KeySource
	BuiltinKey string
	Model      string
	Logger     *zap.Logger
}

// Processor rewrites note text by instruction.
type Processor struct {
	completer  Completer
	keys       KeySource
	builtinKey string
	model      string
	logger     *zap.Logger
}

// NewProcessor validates the configuration and returns a processor.
func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if cfg.Completer == nil {
		return nil, errMissingCompleter
	}
	if cfg.Keys == nil {
		return nil, errMissingKeys
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Processor{
		completer:  cfg.Completer,
		keys:       cfg.Keys,
		builtinKey: strings.TrimSpace(cfg.BuiltinKey),
		model:      model,
		logger:     logger,
	}, nil
}

// ResolveAPIKey picks the built-in key when the user prefers it, the stored key
// otherwise, and falls back to the built-in key when nothing is stored.
func (p *Processor) ResolveAPIKey(ctx context.Context) (string, error) {
	if p.keys.UseBuiltinKey(ctx) && p.builtinKey != "" {
		return p.builtinKey, nil
	}
	if stored := strings.TrimSpace(p.keys.APIKey(ctx)); stored != "" {
		return stored, nil
	}
	if p.builtinKey != "" {
		return p.builtinKey, nil
	}
	return "", ErrMissingAPIKey
}

// NotePrompt builds the messages asking the model to rewrite the note's text.
func NotePrompt(note notes.Note, instruction string) []Message {
	return []Message{
		{Role: "system", Content: noteEditingSystemMessage},
		{Role: "user", Content: fmt.Sprintf(noteEditingUserTemplate, note.Content.Text("\n\n"), instruction)},
	}
}

// ProcessNote sends the note's text blocks with the instruction and returns the
// rewritten content.
func (p *Processor) ProcessNote(ctx context.Context, note notes.Note, instruction string) (string, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return "", ErrEmptyInstruction
	}
	apiKey, err := p.ResolveAPIKey(ctx)
	if err != nil {
		return "", err
	}
	response := p.completer.Complete(ctx, apiKey, Request{
		Model:       p.model,
		Messages:    NotePrompt(note, instruction),
		Temperature: DefaultTemperature,
	})
	if !response.Success {
		p.logger.Warn("note processing failed",
			zap.String("operation", "ai.process_note"),
			zap.String("note_id", note.ID),
			zap.String("error", response.Error),
		)
		return "", fmt.Errorf("%w: %s", ErrCompletionFailed, response.Error)
	}
	return response.Data, nil
}

// ApplyResult returns a copy of note whose first text block holds content. Other
// text blocks are dropped and image blocks keep their positions; a note without
// text gets a new leading text block.
func ApplyResult(note notes.Note, content string, ids notes.IDProvider) (notes.Note, error) {
	updated := note.Clone()
	blocks := make(notes.Blocks, 0, len(note.Content)+1)
	placed := false
	for _, block := range note.Content {
		switch typed := block.(type) {
		case notes.TextBlock:
			if placed {
				continue
			}
			typed.Content = content
			blocks = append(blocks, typed)
			placed = true
		case notes.ImageBlock:
			blocks = append(blocks, typed)
		}
	}
	if !placed {
		block, err := notes.NewTextBlock(ids, content)
		if err != nil {
			return notes.Note{}, err
		}
		blocks = append(notes.Blocks{block}, blocks...)
	}
	updated.Content = blocks
	updated.Legacy = nil
	return updated, nil
}
