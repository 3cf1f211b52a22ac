package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"libraryweb/internal/token"
	"libraryweb/pkg/notify"
	"libraryweb/pkg/storage"
	"libraryweb/pkg/store"
)

const (
	// maxOpenRequests is the per-reader cap on non-fulfilled requests.
	maxOpenRequests = 5

	defaultLoanPeriod = 14 * 24 * time.Hour
	noticeTimeout     = 10 * time.Second
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Notifier    notify.Notifier
	Objects     storage.CoverStore
	Tokens      *token.Issuer
	LoanPeriod  time.Duration
}

// App wires the store, the notification trigger, and object storage together
// and carries the lending workflows.
type App struct {
	store         store.Store
	notifier      notify.Notifier
	objects       storage.CoverStore
	tokens        *token.Issuer
	loanPeriod    time.Duration
	presignExpiry time.Duration
}

// New constructs the application. A Store must be supplied or reachable via
// DatabaseURL; the notifier and object store are optional collaborators.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	loanPeriod := cfg.LoanPeriod
	if loanPeriod <= 0 {
		loanPeriod = defaultLoanPeriod
	}
	return &App{
		store:         dataStore,
		notifier:      notifier,
		objects:       cfg.Objects,
		tokens:        cfg.Tokens,
		loanPeriod:    loanPeriod,
		presignExpiry: 15 * time.Minute,
	}, nil
}

// notice is an availability message collected inside a transaction and
// dispatched only after it commits.
type notice struct {
	Recipient string
	BookTitle string
}

// dispatch hands the notice to the notifier. Failures are logged and never
// surfaced: notification is detached from the transactional path.
func (a *App) dispatch(n *notice) {
	if n == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), noticeTimeout)
	defer cancel()
	if err := a.notifier.SendAvailabilityNotice(ctx, n.Recipient, n.BookTitle); err != nil {
		slog.Warn("availability notice failed", "recipient", n.Recipient, "error", err)
	}
}
