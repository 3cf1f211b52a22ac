package app

import (
	"fmt"

	"libraryweb/pkg/domain"
	"libraryweb/pkg/store"
)

// legal copy status transitions. A copy must be reserved before it can be
// borrowed; a reservation can be released without a loan.
var copyTransitions = map[domain.CopyStatus][]domain.CopyStatus{
	domain.CopyAvailable: {domain.CopyReserved},
	domain.CopyReserved:  {domain.CopyBorrowed, domain.CopyAvailable},
	domain.CopyBorrowed:  {domain.CopyAvailable},
}

func copyTransitionAllowed(from, to domain.CopyStatus) bool {
	for _, next := range copyTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ChangeCopyStatus moves a copy through its status machine. When the copy
// reaches AVAILABLE the oldest queued request for its book is promoted to
// PENDING and the copy is immediately re-reserved on that request's behalf,
// all inside one store transaction. The availability notice goes out after
// the transaction commits and cannot fail it.
func (a *App) ChangeCopyStatus(serialNum string, newStatus domain.CopyStatus) (domain.Copy, error) {
	var (
		result domain.Copy
		note   *notice
	)
	err := a.store.Transact(func(tx store.Store) error {
		c, ok, err := tx.GetCopy(serialNum)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("copy %s: %w", serialNum, ErrNotFound)
		}
		if c.Status == newStatus {
			result = c
			return nil
		}
		if !copyTransitionAllowed(c.Status, newStatus) {
			return fmt.Errorf("copy %s %s->%s: %w", serialNum, c.Status, newStatus, ErrInvalidTransition)
		}
		moved, err := tx.CompareAndSetCopyStatus(serialNum, c.Status, newStatus)
		if err != nil {
			return err
		}
		if !moved {
			return fmt.Errorf("copy %s changed concurrently: %w", serialNum, ErrConflict)
		}
		if newStatus == domain.CopyAvailable {
			note, err = promoteNext(tx, c.BookID, serialNum)
			if err != nil {
				return err
			}
		}
		result, _, err = tx.GetCopy(serialNum)
		return err
	})
	if err != nil {
		return domain.Copy{}, err
	}
	a.dispatch(note)
	return result, nil
}

// promoteNext advances the head of the book's queue against a copy that just
// became available. Runs inside the caller's transaction so no concurrent
// reader can observe the copy free before the queue moved.
func promoteNext(tx store.Store, bookID, serialNum string) (*notice, error) {
	head, ok, err := tx.OldestQueuedRequest(bookID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	promoted, err := tx.CompareAndSetRequestStatus(head.ID, domain.RequestQueued, domain.RequestPending)
	if err != nil {
		return nil, err
	}
	if !promoted {
		// The head moved under us inside our own transaction; nothing to do.
		return nil, nil
	}
	reserved, err := tx.CompareAndSetCopyStatus(serialNum, domain.CopyAvailable, domain.CopyReserved)
	if err != nil {
		return nil, err
	}
	if !reserved {
		return nil, fmt.Errorf("copy %s vanished during promotion: %w", serialNum, ErrConsistencyViolation)
	}
	reader, ok, err := tx.GetReader(head.ReaderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	book, ok, err := tx.GetBook(bookID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &notice{Recipient: reader.Email, BookTitle: book.Title}, nil
}

// GetCopy returns a copy by serial number.
func (a *App) GetCopy(serialNum string) (domain.Copy, error) {
	c, ok, err := a.store.GetCopy(serialNum)
	if err != nil {
		return domain.Copy{}, err
	}
	if !ok {
		return domain.Copy{}, fmt.Errorf("copy %s: %w", serialNum, ErrNotFound)
	}
	return c, nil
}
