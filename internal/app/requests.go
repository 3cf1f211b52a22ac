package app

import (
	"fmt"
	"log/slog"
	"time"

	"libraryweb/internal/util"
	"libraryweb/pkg/domain"
	"libraryweb/pkg/store"
)

// reserveScanAttempts bounds how often CreateRequest rescans after losing a
// reservation race before it falls back to queueing.
const reserveScanAttempts = 3

// CreateRequest places a reader's claim on a book. If an AVAILABLE copy
// exists it is reserved atomically and the request starts PENDING; otherwise
// the request enters the book's FIFO queue as QUEUED.
func (a *App) CreateRequest(readerID, bookID string) (domain.Request, error) {
	if _, ok, err := a.store.GetReader(readerID); err != nil {
		return domain.Request{}, err
	} else if !ok {
		return domain.Request{}, fmt.Errorf("reader %s: %w", readerID, ErrNotFound)
	}
	book, ok, err := a.store.GetBook(bookID)
	if err != nil {
		return domain.Request{}, err
	}
	if !ok {
		return domain.Request{}, fmt.Errorf("book %s: %w", bookID, ErrNotFound)
	}

	open, err := a.store.CountOpenRequests(readerID)
	if err != nil {
		return domain.Request{}, err
	}
	if open >= maxOpenRequests {
		return domain.Request{}, fmt.Errorf("reader %s has %d open requests: %w", readerID, open, ErrLimitExceeded)
	}
	dup, err := a.store.HasOpenRequestForBook(readerID, bookID)
	if err != nil {
		return domain.Request{}, err
	}
	if dup {
		return domain.Request{}, fmt.Errorf("reader %s already requested book %s: %w", readerID, bookID, ErrConflict)
	}

	serial, err := a.reserveAvailableCopy(bookID)
	if err != nil {
		return domain.Request{}, err
	}
	status := domain.RequestQueued
	if serial != "" {
		status = domain.RequestPending
	}

	request := domain.Request{
		ID:        util.NewID(),
		ReaderID:  readerID,
		BookID:    bookID,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.CreateRequest(request); err != nil {
		// The reservation has no owning request; hand the copy back so it
		// does not sit RESERVED forever.
		if serial != "" {
			a.releaseReservedCopy(bookID, serial)
		}
		return domain.Request{}, err
	}
	request.Book = &book
	return request, nil
}

// reserveAvailableCopy scans for an AVAILABLE copy and claims it with a
// conditional update, returning the claimed serial number. A lost swap means
// another request took the copy first; the scan repeats until no free copy
// remains or the attempt budget runs out.
func (a *App) reserveAvailableCopy(bookID string) (string, error) {
	for attempt := 0; attempt < reserveScanAttempts; attempt++ {
		c, ok, err := a.store.FindCopyByStatus(bookID, domain.CopyAvailable)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", nil
		}
		won, err := a.store.CompareAndSetCopyStatus(c.SerialNum, domain.CopyAvailable, domain.CopyReserved)
		if err != nil {
			return "", err
		}
		if won {
			return c.SerialNum, nil
		}
	}
	return "", nil
}

// releaseReservedCopy returns a reserved copy to the pool and promotes the
// book's queue head, the same way cancellation does. Used when the request
// insert fails after its reservation already went through.
func (a *App) releaseReservedCopy(bookID, serialNum string) {
	var note *notice
	err := a.store.Transact(func(tx store.Store) error {
		released, err := tx.CompareAndSetCopyStatus(serialNum, domain.CopyReserved, domain.CopyAvailable)
		if err != nil || !released {
			return err
		}
		note, err = promoteNext(tx, bookID, serialNum)
		return err
	})
	if err != nil {
		slog.Warn("release reserved copy failed", "copy", serialNum, "error", err)
		return
	}
	a.dispatch(note)
}

// UpdateStatus is the administrative transition on a request. FULFILLED is
// terminal and cannot be left.
func (a *App) UpdateStatus(requestID string, newStatus domain.RequestStatus) (domain.Request, error) {
	request, ok, err := a.store.GetRequest(requestID)
	if err != nil {
		return domain.Request{}, err
	}
	if !ok {
		return domain.Request{}, fmt.Errorf("request %s: %w", requestID, ErrNotFound)
	}
	if request.Status == domain.RequestFulfilled && newStatus != domain.RequestFulfilled {
		return domain.Request{}, fmt.Errorf("request %s is fulfilled: %w", requestID, ErrInvalidTransition)
	}
	updated, ok, err := a.store.SetRequestStatus(requestID, newStatus)
	if err != nil {
		return domain.Request{}, err
	}
	if !ok {
		return domain.Request{}, fmt.Errorf("request %s: %w", requestID, ErrNotFound)
	}
	return updated, nil
}

// GiveBook hands the reserved copy over the counter: the request becomes
// FULFILLED and a loan is opened for the same reader and book. This is the
// only path from a pending request to an active loan.
func (a *App) GiveBook(requestID string) (domain.Request, error) {
	var result domain.Request
	err := a.store.Transact(func(tx store.Store) error {
		request, ok, err := tx.GetRequest(requestID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("request %s: %w", requestID, ErrNotFound)
		}
		if request.Status != domain.RequestPending {
			return fmt.Errorf("request %s is %s: %w", requestID, request.Status, ErrInvalidTransition)
		}
		fulfilled, err := tx.CompareAndSetRequestStatus(requestID, domain.RequestPending, domain.RequestFulfilled)
		if err != nil {
			return err
		}
		if !fulfilled {
			return fmt.Errorf("request %s changed concurrently: %w", requestID, ErrConflict)
		}
		if _, err := createLoanTx(tx, request.ReaderID, request.BookID, a.loanPeriod); err != nil {
			return err
		}
		result, _, err = tx.GetRequest(requestID)
		return err
	})
	if err != nil {
		return domain.Request{}, err
	}
	return result, nil
}

// Cancel removes the reader's own request unless it is already fulfilled.
// A cancelled PENDING request releases its reserved copy back to AVAILABLE,
// which promotes the next queued request for the book.
func (a *App) Cancel(requestID, readerID string) (domain.Request, error) {
	var (
		removed domain.Request
		note    *notice
	)
	err := a.store.Transact(func(tx store.Store) error {
		request, ok, err := tx.DeleteOpenRequest(requestID, readerID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("request %s: %w", requestID, ErrNotFound)
		}
		removed = request
		if request.Status != domain.RequestPending {
			return nil
		}
		held, ok, err := tx.FindCopyByStatus(request.BookID, domain.CopyReserved)
		if err != nil || !ok {
			return err
		}
		released, err := tx.CompareAndSetCopyStatus(held.SerialNum, domain.CopyReserved, domain.CopyAvailable)
		if err != nil {
			return err
		}
		if !released {
			return nil
		}
		note, err = promoteNext(tx, request.BookID, held.SerialNum)
		return err
	})
	if err != nil {
		return domain.Request{}, err
	}
	a.dispatch(note)
	return removed, nil
}

// Notify re-sends the availability notice for a pending request. It changes
// no state; delivery is best effort.
func (a *App) Notify(requestID string) error {
	request, ok, err := a.store.GetRequest(requestID)
	if err != nil {
		return err
	}
	if !ok || request.Status != domain.RequestPending {
		return fmt.Errorf("pending request %s: %w", requestID, ErrNotFound)
	}
	reader, ok, err := a.store.GetReader(request.ReaderID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("reader %s: %w", request.ReaderID, ErrNotFound)
	}
	book, ok, err := a.store.GetBook(request.BookID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("book %s: %w", request.BookID, ErrNotFound)
	}
	a.dispatch(&notice{Recipient: reader.Email, BookTitle: book.Title})
	return nil
}

// GetRequest returns a request by ID.
func (a *App) GetRequest(requestID string) (domain.Request, error) {
	request, ok, err := a.store.GetRequest(requestID)
	if err != nil {
		return domain.Request{}, err
	}
	if !ok {
		return domain.Request{}, fmt.Errorf("request %s: %w", requestID, ErrNotFound)
	}
	return request, nil
}

// ListRequests returns a page of all requests with the total count.
func (a *App) ListRequests(p domain.Pagination) ([]domain.Request, int64, error) {
	return a.store.ListRequests(p)
}
