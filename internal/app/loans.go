package app

import (
	"fmt"
	"time"

	"libraryweb/internal/util"
	"libraryweb/pkg/domain"
	"libraryweb/pkg/store"
)

// CreateLoan opens a loan against the book's reserved copy. Reading-room
// copies are due back the same day; take-home copies get the loan period.
// A missing reserved copy means the request workflow never reserved one,
// which is a consistency violation rather than a user error.
func (a *App) CreateLoan(readerID, bookID string) (domain.Loan, error) {
	var loan domain.Loan
	err := a.store.Transact(func(tx store.Store) error {
		var err error
		loan, err = createLoanTx(tx, readerID, bookID, a.loanPeriod)
		return err
	})
	if err != nil {
		return domain.Loan{}, err
	}
	return loan, nil
}

func createLoanTx(tx store.Store, readerID, bookID string, loanPeriod time.Duration) (domain.Loan, error) {
	reserved, ok, err := tx.FindCopyByStatus(bookID, domain.CopyReserved)
	if err != nil {
		return domain.Loan{}, err
	}
	if !ok {
		return domain.Loan{}, fmt.Errorf("no reserved copy for book %s: %w", bookID, ErrConsistencyViolation)
	}
	borrowed, err := tx.CompareAndSetCopyStatus(reserved.SerialNum, domain.CopyReserved, domain.CopyBorrowed)
	if err != nil {
		return domain.Loan{}, err
	}
	if !borrowed {
		return domain.Loan{}, fmt.Errorf("copy %s changed concurrently: %w", reserved.SerialNum, ErrConflict)
	}
	now := time.Now().UTC()
	due := now.Add(loanPeriod)
	if reserved.AccessType == domain.AccessReadingRoom {
		due = now
	}
	loan := domain.Loan{
		ID:         util.NewID(),
		ReaderID:   readerID,
		CopySerial: reserved.SerialNum,
		IssueDate:  now,
		DueDate:    due,
	}
	if err := tx.CreateLoan(loan); err != nil {
		return domain.Loan{}, err
	}
	return loan, nil
}

// SetLoanAsReturned closes the loan and frees its copy. Freeing the copy
// promotes the next queued request for the book inside the same transaction;
// the availability notice goes out after commit.
func (a *App) SetLoanAsReturned(loanID string) (domain.Loan, error) {
	var (
		closed domain.Loan
		note   *notice
	)
	err := a.store.Transact(func(tx store.Store) error {
		loan, ok, err := tx.GetLoan(loanID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("loan %s: %w", loanID, ErrNotFound)
		}
		if loan.ReturnDate != nil {
			return fmt.Errorf("loan %s already returned: %w", loanID, ErrInvalidTransition)
		}
		closed, ok, err = tx.SetLoanReturned(loanID, time.Now().UTC())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("loan %s closed concurrently: %w", loanID, ErrConflict)
		}
		c, ok, err := tx.GetCopy(loan.CopySerial)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("copy %s: %w", loan.CopySerial, ErrConsistencyViolation)
		}
		freed, err := tx.CompareAndSetCopyStatus(c.SerialNum, domain.CopyBorrowed, domain.CopyAvailable)
		if err != nil {
			return err
		}
		if !freed {
			return fmt.Errorf("copy %s not borrowed: %w", c.SerialNum, ErrConsistencyViolation)
		}
		note, err = promoteNext(tx, c.BookID, c.SerialNum)
		return err
	})
	if err != nil {
		return domain.Loan{}, err
	}
	a.dispatch(note)
	return closed, nil
}

// OverdueLoans returns active loans past their due date, ordered by due date.
func (a *App) OverdueLoans(p domain.Pagination) ([]domain.Loan, int64, error) {
	return a.store.ListOverdueLoans(time.Now().UTC(), p)
}

// GetLoan returns a loan by ID.
func (a *App) GetLoan(loanID string) (domain.Loan, error) {
	loan, ok, err := a.store.GetLoan(loanID)
	if err != nil {
		return domain.Loan{}, err
	}
	if !ok {
		return domain.Loan{}, fmt.Errorf("loan %s: %w", loanID, ErrNotFound)
	}
	return loan, nil
}
