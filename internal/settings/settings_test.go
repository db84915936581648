package settings

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/notepro/internal/cache"
)

type countingKV struct {
	cache.KeyValue
	gets int
}

func (c *countingKV) Get(ctx context.Context, key string) (string, bool, error) {
	c.gets++
	return c.KeyValue.Get(ctx, key)
}

func newTestStore(testContext *testing.T, profile string) (*Store, *countingKV) {
	testContext.Helper()
	database, err := gorm.Open(sqlite.Open(filepath.Join(testContext.TempDir(), "settings.db")), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&cache.Entry{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	kv, err := cache.NewSQLiteKV(cache.KVConfig{Database: database})
	if err != nil {
		testContext.Fatalf("failed to build kv: %v", err)
	}
	counting := &countingKV{KeyValue: kv}
	store, err := NewStore(Config{KeyValue: counting, Profile: profile})
	if err != nil {
		testContext.Fatalf("failed to build settings store: %v", err)
	}
	return store, counting
}

func TestThemeTransitions(testContext *testing.T) {
	theme := DefaultTheme()
	if theme.Mode != ThemeModeSystem || theme.Variant != ThemeVariantDefault || !theme.FollowSystem {
		testContext.Fatalf("unexpected default theme %+v", theme)
	}

	dark := theme.WithMode(ThemeModeDark)
	if dark.FollowSystem {
		testContext.Fatalf("choosing a fixed mode should stop following the system")
	}
	if dark.Resolve(false) != ThemeModeDark {
		testContext.Fatalf("expected dark, got %s", dark.Resolve(false))
	}

	following := dark.ToggleFollowSystem()
	if !following.FollowSystem || following.Mode != ThemeModeSystem {
		testContext.Fatalf("enabling follow-system should reset the mode, got %+v", following)
	}
	if following.Resolve(true) != ThemeModeDark || following.Resolve(false) != ThemeModeLight {
		testContext.Fatalf("follow-system should track the system appearance")
	}

	stopped := following.ToggleFollowSystem()
	if stopped.FollowSystem || stopped.Mode != ThemeModeSystem {
		testContext.Fatalf("disabling follow-system should keep the mode, got %+v", stopped)
	}

	apple := theme.WithVariant(ThemeVariantApple)
	if apple.Variant != ThemeVariantApple || apple.Mode != theme.Mode {
		testContext.Fatalf("unexpected variant change %+v", apple)
	}
}

func TestThemeValidate(testContext *testing.T) {
	tests := []struct {
		name    string
		theme   Theme
		wantErr bool
	}{
		{name: "default", theme: DefaultTheme()},
		{name: "apple-dark", theme: Theme{Mode: ThemeModeDark, Variant: ThemeVariantApple}},
		{name: "unknown-mode", theme: Theme{Mode: "sepia", Variant: ThemeVariantDefault}, wantErr: true},
		{name: "missing-variant", theme: Theme{Mode: ThemeModeLight}, wantErr: true},
	}
	for _, tt := range tests {
		testContext.Run(tt.name, func(t *testing.T) {
			err := tt.theme.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("wantErr=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateAPIKey(testContext *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		message string
	}{
		{name: "valid", raw: "  sk-abc ", want: "sk-abc"},
		{name: "empty", raw: "   ", message: "API key is required"},
		{name: "wrong-prefix", raw: "pk-abc", message: `Invalid API key format. OpenAI keys typically start with "sk-"`},
	}
	for _, tt := range tests {
		testContext.Run(tt.name, func(t *testing.T) {
			got, err := ValidateAPIKey(tt.raw)
			if tt.message == "" {
				if err != nil || got != tt.want {
					t.Fatalf("expected %q, got %q err=%v", tt.want, got, err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidAPIKey) || err.Error() != tt.message {
				t.Fatalf("expected %q, got %v", tt.message, err)
			}
		})
	}
}

func TestStoreThemeRoundTrip(testContext *testing.T) {
	store, _ := newTestStore(testContext, "alice")
	ctx := context.Background()

	if store.Theme(ctx) != DefaultTheme() {
		testContext.Fatalf("expected default theme on a fresh profile")
	}
	chosen := DefaultTheme().WithMode(ThemeModeDark).WithVariant(ThemeVariantApple)
	if err := store.SetTheme(ctx, chosen); err != nil {
		testContext.Fatalf("set theme failed: %v", err)
	}
	if store.Theme(ctx) != chosen {
		testContext.Fatalf("unexpected theme %+v", store.Theme(ctx))
	}
	if err := store.SetTheme(ctx, Theme{Mode: "sepia"}); err == nil {
		testContext.Fatalf("expected invalid theme to be rejected")
	}
}

func TestStoreFallsBackOnCorruptTheme(testContext *testing.T) {
	store, kv := newTestStore(testContext, "")
	ctx := context.Background()
	if err := kv.Set(ctx, cache.ProfileKey("", ThemeKeyName), "{broken"); err != nil {
		testContext.Fatalf("seed failed: %v", err)
	}
	if store.Theme(ctx) != DefaultTheme() {
		testContext.Fatalf("expected default theme for a corrupt entry")
	}
}

func TestStoreServesRepeatReadsFromMemory(testContext *testing.T) {
	store, kv := newTestStore(testContext, "")
	ctx := context.Background()
	store.UseBuiltinKey(ctx)
	store.UseBuiltinKey(ctx)
	if kv.gets != 1 {
		testContext.Fatalf("expected one backing read, got %d", kv.gets)
	}
	if err := store.SetUseBuiltinKey(ctx, true); err != nil {
		testContext.Fatalf("set failed: %v", err)
	}
	if !store.UseBuiltinKey(ctx) || kv.gets != 1 {
		testContext.Fatalf("expected write-through without another read, gets=%d", kv.gets)
	}
}

func TestStoreAPIKey(testContext *testing.T) {
	store, _ := newTestStore(testContext, "alice")
	ctx := context.Background()

	if store.APIKey(ctx) != "" {
		testContext.Fatalf("expected no key on a fresh profile")
	}
	if err := store.SetAPIKey(ctx, "bad"); !errors.Is(err, ErrInvalidAPIKey) {
		testContext.Fatalf("expected invalid key error, got %v", err)
	}
	if err := store.SetAPIKey(ctx, "sk-test"); err != nil {
		testContext.Fatalf("set key failed: %v", err)
	}
	if store.APIKey(ctx) != "sk-test" {
		testContext.Fatalf("unexpected key %q", store.APIKey(ctx))
	}
	if err := store.ClearAPIKey(ctx); err != nil {
		testContext.Fatalf("clear failed: %v", err)
	}
	if store.APIKey(ctx) != "" {
		testContext.Fatalf("expected key to be cleared")
	}
}
