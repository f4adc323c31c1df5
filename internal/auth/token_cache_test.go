package auth

import (
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestTokenCacheRoundTrip(t *testing.T) {
	cache := NewTokenCache(filepath.Join(t.TempDir(), "nested", "token.json"))

	// Missing file is not an error.
	token, err := cache.Load()
	if err != nil {
		t.Fatalf("Load() on missing file: %v", err)
	}
	if token != nil {
		t.Fatalf("Load() on missing file = %+v, want nil", token)
	}

	want := &oauth2.Token{
		AccessToken:  "access-123",
		RefreshToken: "refresh-456",
		TokenType:    "Bearer",
		Expiry:       time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := cache.Save(want); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	token, err = cache.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if token == nil {
		t.Fatal("Load() = nil after Save()")
	}
	if token.AccessToken != want.AccessToken || token.RefreshToken != want.RefreshToken {
		t.Errorf("Load() = %+v, want %+v", token, want)
	}
	if !token.Expiry.Equal(want.Expiry) {
		t.Errorf("Expiry = %v, want %v", token.Expiry, want.Expiry)
	}

	if err := cache.Save(nil); err == nil {
		t.Error("Save(nil) should fail")
	}

	if err := cache.Delete(); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if err := cache.Delete(); err != nil {
		t.Fatalf("Delete() on missing file: %v", err)
	}
}
