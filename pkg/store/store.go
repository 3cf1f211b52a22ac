package store

import (
	"time"

	"libraryweb/pkg/domain"
)

// Store defines persistence operations for books, copies, requests, loans,
// and readers. Conditional operations (CompareAndSet*, DeleteOpenRequest,
// SetLoanReturned) report via their bool result whether a row actually moved,
// so callers can realize check-then-act without a read/write gap.
type Store interface {
	// books
	CreateBook(domain.Book) error
	GetBook(id string) (domain.Book, bool, error)
	ListBooks(p domain.Pagination) ([]domain.Book, int64, error)
	UpdateBook(domain.Book) error
	DeleteBook(id string) error

	// copies
	CreateCopies([]domain.Copy) error
	GetCopy(serialNum string) (domain.Copy, bool, error)
	ListCopiesByBook(bookID string) ([]domain.Copy, error)
	// FindCopyByStatus returns any copy of the book currently in the given status.
	FindCopyByStatus(bookID string, status domain.CopyStatus) (domain.Copy, bool, error)
	// CompareAndSetCopyStatus atomically moves a copy from one status to
	// another. Returns false when the copy was not in the expected status.
	CompareAndSetCopyStatus(serialNum string, from, to domain.CopyStatus) (bool, error)

	// requests
	CreateRequest(domain.Request) error
	GetRequest(id string) (domain.Request, bool, error)
	ListRequests(p domain.Pagination) ([]domain.Request, int64, error)
	ListRequestsByReader(readerID string) ([]domain.Request, error)
	CountOpenRequests(readerID string) (int, error)
	HasOpenRequestForBook(readerID, bookID string) (bool, error)
	// OldestQueuedRequest returns the head of the book's queue, ordered by
	// created_at with id as tie-break.
	OldestQueuedRequest(bookID string) (domain.Request, bool, error)
	SetRequestStatus(id string, status domain.RequestStatus) (domain.Request, bool, error)
	CompareAndSetRequestStatus(id string, from, to domain.RequestStatus) (bool, error)
	// DeleteOpenRequest removes the request only if it belongs to the reader
	// and is not FULFILLED, returning the deleted row.
	DeleteOpenRequest(id, readerID string) (domain.Request, bool, error)

	// loans
	CreateLoan(domain.Loan) error
	GetLoan(id string) (domain.Loan, bool, error)
	// SetLoanReturned closes the loan only while it is still active.
	SetLoanReturned(id string, at time.Time) (domain.Loan, bool, error)
	ActiveLoanByCopy(serialNum string) (domain.Loan, bool, error)
	HasActiveLoanForBook(bookID string) (bool, error)
	ListOverdueLoans(now time.Time, p domain.Pagination) ([]domain.Loan, int64, error)

	// readers
	CreateReader(domain.Reader) error
	GetReader(id string) (domain.Reader, bool, error)
	GetReaderByEmail(email string) (domain.Reader, bool, error)
	SetReaderVerified(id string) error

	// Transact runs fn against a Store bound to a single transaction. State
	// changes made by fn are visible together or not at all.
	Transact(fn func(Store) error) error
}
