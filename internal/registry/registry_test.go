package registry

import "testing"

func TestLookupKnownProvider(t *testing.T) {
	p, ok := Lookup("anthropic")
	if !ok {
		t.Fatalf("Lookup(anthropic) ok = false, want true")
	}
	if p.AuthScheme != AuthAPIKeyHeader {
		t.Fatalf("AuthScheme = %v, want AuthAPIKeyHeader", p.AuthScheme)
	}
}

func TestLookupUnknownProvider(t *testing.T) {
	if _, ok := Lookup("definitely-not-registered"); ok {
		t.Fatalf("Lookup() ok = true for an unregistered provider id")
	}
}

func TestRegisterOverridesCatalogueEntry(t *testing.T) {
	Register(Provider{ID: "test-registry-custom", ModelsURL: "https://example.com/v1/models", AuthScheme: AuthBearer})
	p, ok := Lookup("test-registry-custom")
	if !ok {
		t.Fatalf("Lookup() ok = false after Register()")
	}
	if p.ModelsURL != "https://example.com/v1/models" {
		t.Fatalf("ModelsURL = %q", p.ModelsURL)
	}
}

func TestAllIncludesEveryRegisteredProvider(t *testing.T) {
	all := All()
	found := false
	for _, p := range all {
		if p.ID == "openai" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("All() did not include the built-in openai entry")
	}
}

func TestAntigravityIsMultiBucket(t *testing.T) {
	p, ok := Lookup("antigravity")
	if !ok {
		t.Fatalf("Lookup(antigravity) ok = false")
	}
	if !p.MultiBucket {
		t.Fatalf("antigravity.MultiBucket = false, want true")
	}
}

func TestOAuthCapableProvidersCarryRefreshMetadata(t *testing.T) {
	for _, id := range []string{"gemini-cli", "qwen", "antigravity"} {
		p, ok := Lookup(id)
		if !ok {
			t.Fatalf("Lookup(%s) ok = false", id)
		}
		if p.RefreshURL == "" {
			t.Fatalf("%s.RefreshURL is empty, want a populated OAuth refresh endpoint", id)
		}
		if p.ClientID == "" {
			t.Fatalf("%s.ClientID is empty, want a populated OAuth client id", id)
		}
	}
}

func TestAPIKeyOnlyProvidersHaveNoRefreshURL(t *testing.T) {
	p, ok := Lookup("openai")
	if !ok {
		t.Fatalf("Lookup(openai) ok = false")
	}
	if p.RefreshURL != "" {
		t.Fatalf("openai.RefreshURL = %q, want empty for a non-OAuth provider", p.RefreshURL)
	}
}
