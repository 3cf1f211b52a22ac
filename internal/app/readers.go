package app

import (
	"fmt"
	"strings"
	"time"

	"libraryweb/internal/util"
	"libraryweb/pkg/auth"
	"libraryweb/pkg/domain"
)

// Register creates a reader account with a hashed password.
func (a *App) Register(email, name, password string) (domain.Reader, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return domain.Reader{}, fmt.Errorf("email and password required")
	}
	if _, exists, err := a.store.GetReaderByEmail(email); err != nil {
		return domain.Reader{}, err
	} else if exists {
		return domain.Reader{}, ErrEmailAlreadyExists
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.Reader{}, fmt.Errorf("hash password: %w", err)
	}
	reader := domain.Reader{
		ID:           util.NewID(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
		Role:         domain.RoleReader,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.CreateReader(reader); err != nil {
		return domain.Reader{}, err
	}
	return reader, nil
}

// Login checks credentials and issues a session token.
func (a *App) Login(email, password string) (string, domain.Reader, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	reader, ok, err := a.store.GetReaderByEmail(email)
	if err != nil {
		return "", domain.Reader{}, err
	}
	if !ok || !auth.CheckPassword(password, reader.PasswordHash) {
		return "", domain.Reader{}, ErrInvalidCredentials
	}
	if a.tokens == nil {
		return "", domain.Reader{}, fmt.Errorf("token issuer not configured")
	}
	tok, err := a.tokens.Issue(reader.ID, string(reader.Role))
	if err != nil {
		return "", domain.Reader{}, fmt.Errorf("issue token: %w", err)
	}
	return tok, reader, nil
}

// GetReaderWithRequests returns a reader with their requests embedded.
func (a *App) GetReaderWithRequests(readerID string) (domain.Reader, error) {
	reader, ok, err := a.store.GetReader(readerID)
	if err != nil {
		return domain.Reader{}, err
	}
	if !ok {
		return domain.Reader{}, fmt.Errorf("reader %s: %w", readerID, ErrNotFound)
	}
	requests, err := a.store.ListRequestsByReader(readerID)
	if err != nil {
		return domain.Reader{}, err
	}
	reader.Requests = requests
	return reader, nil
}

// VerifyReader marks the reader's email as confirmed.
func (a *App) VerifyReader(readerID string) error {
	if _, ok, err := a.store.GetReader(readerID); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("reader %s: %w", readerID, ErrNotFound)
	}
	return a.store.SetReaderVerified(readerID)
}
