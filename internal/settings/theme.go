package settings

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ThemeMode selects light, dark, or the system appearance.
type ThemeMode string

const (
	ThemeModeLight  ThemeMode = "light"
	ThemeModeDark   ThemeMode = "dark"
	ThemeModeSystem ThemeMode = "system"
)

// ThemeVariant selects the palette family.
type ThemeVariant string

const (
	ThemeVariantDefault ThemeVariant = "default"
	ThemeVariantApple   ThemeVariant = "apple"
)

// ErrInvalidAPIKey indicates a key that fails the basic shape check.
var ErrInvalidAPIKey = errors.New("settings: invalid api key")

// Theme is the persisted appearance preference.
type Theme struct {
	Mode         ThemeMode    `json:"mode"`
	Variant      ThemeVariant `json:"variant"`
	FollowSystem bool         `json:"followSystem"`
}

// DefaultTheme follows the system appearance with the default palette.
func DefaultTheme() Theme {
	return Theme{Mode: ThemeModeSystem, Variant: ThemeVariantDefault, FollowSystem: true}
}

func (t Theme) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.Mode, validation.Required, validation.In(ThemeModeLight, ThemeModeDark, ThemeModeSystem)),
		validation.Field(&t.Variant, validation.Required, validation.In(ThemeVariantDefault, ThemeVariantApple)),
	)
}

// WithMode switches the mode; choosing the system mode also turns on following it.
func (t Theme) WithMode(mode ThemeMode) Theme {
	t.Mode = mode
	t.FollowSystem = mode == ThemeModeSystem
	return t
}

// WithVariant switches the palette.
func (t Theme) WithVariant(variant ThemeVariant) Theme {
	t.Variant = variant
	return t
}

// ToggleFollowSystem flips following the system; turning it on resets the mode to system.
func (t Theme) ToggleFollowSystem() Theme {
	t.FollowSystem = !t.FollowSystem
	if t.FollowSystem {
		t.Mode = ThemeModeSystem
	}
	return t
}

// Resolve returns the concrete appearance given the system's current one.
func (t Theme) Resolve(systemDark bool) ThemeMode {
	systemMode := ThemeModeLight
	if systemDark {
		systemMode = ThemeModeDark
	}
	if t.FollowSystem {
		return systemMode
	}
	if t.Mode == ThemeModeSystem {
		return ThemeModeLight
	}
	return t.Mode
}

var apiKeyShape = validation.NewStringRule(func(value string) bool {
	return strings.HasPrefix(value, "sk-")
}, `Invalid API key format. OpenAI keys typically start with "sk-"`)

// ValidateAPIKey checks a user-entered key and returns it trimmed.
func ValidateAPIKey(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if err := validation.Validate(trimmed, validation.Required.Error("API key is required"), apiKeyShape); err != nil {
		return "", &apiKeyError{err: err}
	}
	return trimmed, nil
}

type apiKeyError struct {
	err error
}

func (e *apiKeyError) Error() string { return e.err.Error() }

func (e *apiKeyError) Unwrap() []error { return []error{ErrInvalidAPIKey, e.err} }
