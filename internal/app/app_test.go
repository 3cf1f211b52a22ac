package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"libraryweb/pkg/domain"
	"libraryweb/pkg/store"
)

type sentNotice struct {
	recipient string
	bookTitle string
}

// recordingNotifier captures availability notices for assertions.
type recordingNotifier struct {
	mu      sync.Mutex
	notices []sentNotice
}

func (r *recordingNotifier) SendAvailabilityNotice(_ context.Context, recipient, bookTitle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, sentNotice{recipient: recipient, bookTitle: bookTitle})
	return nil
}

func (r *recordingNotifier) sent() []sentNotice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sentNotice, len(r.notices))
	copy(out, r.notices)
	return out
}

// failingNotifier always errors, to prove delivery failures never surface.
type failingNotifier struct{}

func (failingNotifier) SendAvailabilityNotice(context.Context, string, string) error {
	return errors.New("smtp unreachable")
}

func newTestApp(t *testing.T) (*App, *store.MemoryStore, *recordingNotifier) {
	t.Helper()
	ms := store.NewMemoryStore()
	rec := &recordingNotifier{}
	a, err := New(Config{Store: ms, Notifier: rec})
	if err != nil {
		t.Fatalf("failed to build app: %v", err)
	}
	return a, ms, rec
}

func mustRegister(t *testing.T, a *App, email string) domain.Reader {
	t.Helper()
	reader, err := a.Register(email, "Test Reader", "hunter2secret")
	if err != nil {
		t.Fatalf("failed to register %s: %v", email, err)
	}
	return reader
}

func mustAddBook(t *testing.T, a *App, title string, copies int, access domain.AccessType) BookWithCopies {
	t.Helper()
	book, err := a.AddBook(BookInput{
		Title:      title,
		Author:     "Some Author",
		Year:       1999,
		Copies:     copies,
		AccessType: access,
	})
	if err != nil {
		t.Fatalf("failed to add book %s: %v", title, err)
	}
	return book
}

func mustRequest(t *testing.T, a *App, readerID, bookID string) domain.Request {
	t.Helper()
	request, err := a.CreateRequest(readerID, bookID)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	return request
}

func copyStatus(t *testing.T, a *App, serialNum string) domain.CopyStatus {
	t.Helper()
	c, err := a.GetCopy(serialNum)
	if err != nil {
		t.Fatalf("failed to get copy %s: %v", serialNum, err)
	}
	return c.Status
}

func requestStatus(t *testing.T, a *App, requestID string) domain.RequestStatus {
	t.Helper()
	request, err := a.GetRequest(requestID)
	if err != nil {
		t.Fatalf("failed to get request %s: %v", requestID, err)
	}
	return request.Status
}
