package app

import (
	"errors"
	"testing"

	"libraryweb/internal/token"
	"libraryweb/pkg/domain"
	"libraryweb/pkg/store"
)

func TestRegisterNormalizesEmail(t *testing.T) {
	a, _, _ := newTestApp(t)
	reader, err := a.Register("  Ann@Example.ORG ", "Ann", "hunter2secret")
	if err != nil {
		t.Fatalf("failed to register: %v", err)
	}
	if reader.Email != "ann@example.org" {
		t.Fatalf("expected lowercased email, got %s", reader.Email)
	}
	if reader.Role != domain.RoleReader {
		t.Fatalf("expected reader role, got %s", reader.Role)
	}
	if reader.PasswordHash == "hunter2secret" {
		t.Fatalf("password stored in the clear")
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	a, _, _ := newTestApp(t)
	mustRegister(t, a, "taken@example.org")
	if _, err := a.Register("TAKEN@example.org", "Other", "hunter2secret"); !errors.Is(err, ErrEmailAlreadyExists) {
		t.Fatalf("expected ErrEmailAlreadyExists, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	tokens, err := token.New(token.Options{Secret: "test-secret"})
	if err != nil {
		t.Fatalf("failed to build issuer: %v", err)
	}
	a, err := New(Config{Store: store.NewMemoryStore(), Tokens: tokens})
	if err != nil {
		t.Fatalf("failed to build app: %v", err)
	}
	reader := mustRegister(t, a, "login@example.org")

	tok, got, err := a.Login("login@example.org", "hunter2secret")
	if err != nil {
		t.Fatalf("failed to login: %v", err)
	}
	if tok == "" || got.ID != reader.ID {
		t.Fatalf("expected a token for %s, got token=%q reader=%s", reader.ID, tok, got.ID)
	}
	claims, err := tokens.Verify(tok)
	if err != nil {
		t.Fatalf("issued token did not verify: %v", err)
	}
	if claims.Subject != reader.ID {
		t.Fatalf("token subject %s, want %s", claims.Subject, reader.ID)
	}

	if _, _, err := a.Login("login@example.org", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := a.Login("nobody@example.org", "hunter2secret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestGetReaderWithRequests(t *testing.T) {
	a, _, _ := newTestApp(t)
	reader := mustRegister(t, a, "busy@example.org")
	book := mustAddBook(t, a, "Attached", 1, domain.AccessTakeHome)
	request := mustRequest(t, a, reader.ID, book.ID)

	got, err := a.GetReaderWithRequests(reader.ID)
	if err != nil {
		t.Fatalf("failed to load reader: %v", err)
	}
	if len(got.Requests) != 1 || got.Requests[0].ID != request.ID {
		t.Fatalf("expected the reader's request embedded, got %+v", got.Requests)
	}
}

func TestVerifyReader(t *testing.T) {
	a, ms, _ := newTestApp(t)
	reader := mustRegister(t, a, "confirm@example.org")
	if err := a.VerifyReader(reader.ID); err != nil {
		t.Fatalf("failed to verify reader: %v", err)
	}
	got, ok, err := ms.GetReader(reader.ID)
	if err != nil || !ok {
		t.Fatalf("failed to reload reader, ok=%v err=%v", ok, err)
	}
	if !got.Verified {
		t.Fatalf("expected reader verified")
	}
	if err := a.VerifyReader("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
