package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"libraryweb/pkg/domain"
	"libraryweb/pkg/store"
)

func TestAddBookCreatesCopies(t *testing.T) {
	a, _, _ := newTestApp(t)
	book := mustAddBook(t, a, "Stocked", 3, domain.AccessTakeHome)
	if len(book.Copies) != 3 {
		t.Fatalf("expected 3 copies, got %d", len(book.Copies))
	}
	for i, c := range book.Copies {
		want := fmt.Sprintf("%s-%02d", book.ID, i+1)
		if c.SerialNum != want {
			t.Fatalf("copy %d serial %s, want %s", i, c.SerialNum, want)
		}
		if c.Status != domain.CopyAvailable {
			t.Fatalf("new copy should start AVAILABLE, got %s", c.Status)
		}
	}
}

func TestAddBookValidation(t *testing.T) {
	a, _, _ := newTestApp(t)
	if _, err := a.AddBook(BookInput{Author: "Nameless"}); err == nil {
		t.Fatalf("expected error for missing title")
	}
	if _, err := a.AddBook(BookInput{Title: "Negative", Author: "A", Copies: -1}); err == nil {
		t.Fatalf("expected error for negative copy count")
	}
}

func TestUpdateBook(t *testing.T) {
	a, _, _ := newTestApp(t)
	book := mustAddBook(t, a, "Draft Title", 1, domain.AccessTakeHome)

	updated, err := a.UpdateBook(book.ID, BookInput{Title: "Final Title", Author: "Same Author", Year: 2001})
	if err != nil {
		t.Fatalf("failed to update book: %v", err)
	}
	if updated.Title != "Final Title" || updated.Year != 2001 {
		t.Fatalf("update not applied: %+v", updated)
	}
	if _, err := a.UpdateBook("missing", BookInput{Title: "X", Author: "Y"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteBookRefusedWhileOnLoan(t *testing.T) {
	a, _, _ := newTestApp(t)
	reader := mustRegister(t, a, "holder@example.org")
	book := mustAddBook(t, a, "Borrowed Out", 1, domain.AccessTakeHome)
	request := mustRequest(t, a, reader.ID, book.ID)
	if _, err := a.GiveBook(request.ID); err != nil {
		t.Fatalf("failed to give book: %v", err)
	}

	if err := a.DeleteBook(book.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict while a copy is on loan, got %v", err)
	}

	loan, ok, err := a.store.ActiveLoanByCopy(book.Copies[0].SerialNum)
	if err != nil || !ok {
		t.Fatalf("expected active loan, ok=%v err=%v", ok, err)
	}
	if _, err := a.SetLoanAsReturned(loan.ID); err != nil {
		t.Fatalf("failed to return loan: %v", err)
	}
	if err := a.DeleteBook(book.ID); err != nil {
		t.Fatalf("failed to delete returned book: %v", err)
	}
	if _, err := a.GetBook(book.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected book gone, got %v", err)
	}
}

func TestListBooksPagination(t *testing.T) {
	a, _, _ := newTestApp(t)
	for i := 0; i < 5; i++ {
		mustAddBook(t, a, fmt.Sprintf("Shelf %d", i), 0, domain.AccessTakeHome)
	}
	page, total, err := a.ListBooks(domain.Pagination{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("failed to list books: %v", err)
	}
	if total != 5 || len(page) != 2 {
		t.Fatalf("expected total=5 page of 2, got total=%d len=%d", total, len(page))
	}
}

type fakeCoverStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeCoverStore() *fakeCoverStore {
	return &fakeCoverStore{objects: make(map[string][]byte)}
}

func (f *fakeCoverStore) PutCover(_ context.Context, bookID string, r io.Reader, _ int64, _ string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := "covers/" + bookID
	f.objects[key] = data
	return key, nil
}

func (f *fakeCoverStore) CoverURL(_ context.Context, key string, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[key]; !ok {
		return "", errors.New("no such object")
	}
	return "https://covers.test/" + key, nil
}

func (f *fakeCoverStore) DeleteCover(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func TestCoverLifecycle(t *testing.T) {
	covers := newFakeCoverStore()
	a, err := New(Config{Store: store.NewMemoryStore(), Objects: covers})
	if err != nil {
		t.Fatalf("failed to build app: %v", err)
	}
	book := mustAddBook(t, a, "Illustrated", 1, domain.AccessTakeHome)

	if _, err := a.CoverURL(context.Background(), book.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before upload, got %v", err)
	}

	image := []byte("fake png bytes")
	if err := a.UploadCover(context.Background(), book.ID, bytes.NewReader(image), int64(len(image)), "image/png"); err != nil {
		t.Fatalf("failed to upload cover: %v", err)
	}
	url, err := a.CoverURL(context.Background(), book.ID)
	if err != nil {
		t.Fatalf("failed to get cover URL: %v", err)
	}
	if url == "" {
		t.Fatalf("expected a cover URL")
	}

	if err := a.DeleteBook(book.ID); err != nil {
		t.Fatalf("failed to delete book: %v", err)
	}
	if len(covers.objects) != 0 {
		t.Fatalf("expected cover removed with the book, got %d objects", len(covers.objects))
	}
}
