package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"libraryweb/internal/util"
	"libraryweb/pkg/domain"
)

// BookInput describes a new book and its initial stock of copies.
type BookInput struct {
	Title      string
	Author     string
	Publisher  string
	Year       int
	Metadata   map[string]string
	Copies     int
	AccessType domain.AccessType
}

// BookWithCopies pairs a book with its physical copies for read endpoints.
type BookWithCopies struct {
	domain.Book
	Copies []domain.Copy `json:"copies"`
}

// AddBook registers a book and bulk-creates its copies. Serial numbers are
// derived from the book ID so they stay unique across books.
func (a *App) AddBook(input BookInput) (BookWithCopies, error) {
	if input.Title == "" || input.Author == "" {
		return BookWithCopies{}, fmt.Errorf("title and author required")
	}
	if input.Copies < 0 {
		return BookWithCopies{}, fmt.Errorf("copy count must not be negative")
	}
	access := input.AccessType
	if access == "" {
		access = domain.AccessTakeHome
	}
	now := time.Now().UTC()
	book := domain.Book{
		ID:        util.NewID(),
		Title:     input.Title,
		Author:    input.Author,
		Publisher: input.Publisher,
		Year:      input.Year,
		Metadata:  input.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	copies := make([]domain.Copy, 0, input.Copies)
	for i := 0; i < input.Copies; i++ {
		copies = append(copies, domain.Copy{
			SerialNum:  fmt.Sprintf("%s-%02d", book.ID, i+1),
			BookID:     book.ID,
			Status:     domain.CopyAvailable,
			AccessType: access,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	if err := a.store.CreateBook(book); err != nil {
		return BookWithCopies{}, err
	}
	if err := a.store.CreateCopies(copies); err != nil {
		return BookWithCopies{}, err
	}
	return BookWithCopies{Book: book, Copies: copies}, nil
}

// GetBook returns a book and its copies.
func (a *App) GetBook(bookID string) (BookWithCopies, error) {
	book, ok, err := a.store.GetBook(bookID)
	if err != nil {
		return BookWithCopies{}, err
	}
	if !ok {
		return BookWithCopies{}, fmt.Errorf("book %s: %w", bookID, ErrNotFound)
	}
	copies, err := a.store.ListCopiesByBook(bookID)
	if err != nil {
		return BookWithCopies{}, err
	}
	return BookWithCopies{Book: book, Copies: copies}, nil
}

// ListBooks returns a page of books with the total count.
func (a *App) ListBooks(p domain.Pagination) ([]domain.Book, int64, error) {
	return a.store.ListBooks(p)
}

// UpdateBook replaces book metadata.
func (a *App) UpdateBook(bookID string, input BookInput) (domain.Book, error) {
	book, ok, err := a.store.GetBook(bookID)
	if err != nil {
		return domain.Book{}, err
	}
	if !ok {
		return domain.Book{}, fmt.Errorf("book %s: %w", bookID, ErrNotFound)
	}
	book.Title = input.Title
	book.Author = input.Author
	book.Publisher = input.Publisher
	book.Year = input.Year
	book.Metadata = input.Metadata
	book.UpdatedAt = time.Now().UTC()
	if err := a.store.UpdateBook(book); err != nil {
		return domain.Book{}, err
	}
	return book, nil
}

// DeleteBook removes a book and its copies. Refused while any copy is out on
// an active loan, since the copy row must outlive the loan.
func (a *App) DeleteBook(bookID string) error {
	book, ok, err := a.store.GetBook(bookID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("book %s: %w", bookID, ErrNotFound)
	}
	onLoan, err := a.store.HasActiveLoanForBook(bookID)
	if err != nil {
		return err
	}
	if onLoan {
		return fmt.Errorf("book %s has copies on loan: %w", bookID, ErrConflict)
	}
	if err := a.store.DeleteBook(bookID); err != nil {
		return err
	}
	if a.objects != nil && book.CoverKey != "" {
		if err := a.objects.DeleteCover(context.Background(), book.CoverKey); err != nil {
			slog.Warn("delete cover failed", "book", bookID, "error", err)
		}
	}
	return nil
}

// UploadCover stores a cover image in object storage and records its key.
func (a *App) UploadCover(ctx context.Context, bookID string, r io.Reader, size int64, contentType string) error {
	if a.objects == nil {
		return fmt.Errorf("object storage not configured")
	}
	book, ok, err := a.store.GetBook(bookID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("book %s: %w", bookID, ErrNotFound)
	}
	key, err := a.objects.PutCover(ctx, bookID, r, size, contentType)
	if err != nil {
		return fmt.Errorf("save cover: %w", err)
	}
	book.CoverKey = key
	book.UpdatedAt = time.Now().UTC()
	return a.store.UpdateBook(book)
}

// CoverURL returns a pre-signed URL for the book's cover image.
func (a *App) CoverURL(ctx context.Context, bookID string) (string, error) {
	if a.objects == nil {
		return "", fmt.Errorf("object storage not configured")
	}
	book, ok, err := a.store.GetBook(bookID)
	if err != nil {
		return "", err
	}
	if !ok || book.CoverKey == "" {
		return "", fmt.Errorf("cover for book %s: %w", bookID, ErrNotFound)
	}
	return a.objects.CoverURL(ctx, book.CoverKey, a.presignExpiry)
}
