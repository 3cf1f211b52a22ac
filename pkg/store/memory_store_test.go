package store

import (
	"testing"
	"time"

	"libraryweb/pkg/domain"
)

func seedCopy(t *testing.T, m *MemoryStore, serial, bookID string, status domain.CopyStatus) {
	t.Helper()
	err := m.CreateCopies([]domain.Copy{{
		SerialNum:  serial,
		BookID:     bookID,
		Status:     status,
		AccessType: domain.AccessTakeHome,
	}})
	if err != nil {
		t.Fatalf("failed to seed copy %s: %v", serial, err)
	}
}

func TestCompareAndSetCopyStatus(t *testing.T) {
	m := NewMemoryStore()
	seedCopy(t, m, "b1-01", "b1", domain.CopyAvailable)

	ok, err := m.CompareAndSetCopyStatus("b1-01", domain.CopyAvailable, domain.CopyReserved)
	if err != nil || !ok {
		t.Fatalf("expected swap to win, ok=%v err=%v", ok, err)
	}
	// The copy is no longer AVAILABLE; a second swap from the stale status loses.
	ok, err = m.CompareAndSetCopyStatus("b1-01", domain.CopyAvailable, domain.CopyReserved)
	if err != nil || ok {
		t.Fatalf("expected stale swap to lose, ok=%v err=%v", ok, err)
	}
	ok, err = m.CompareAndSetCopyStatus("missing", domain.CopyAvailable, domain.CopyReserved)
	if err != nil || ok {
		t.Fatalf("expected swap on unknown serial to lose, ok=%v err=%v", ok, err)
	}
	c, ok, err := m.GetCopy("b1-01")
	if err != nil || !ok {
		t.Fatalf("failed to reload copy, ok=%v err=%v", ok, err)
	}
	if c.Status != domain.CopyReserved {
		t.Fatalf("expected RESERVED, got %s", c.Status)
	}
}

func TestOldestQueuedRequestOrdering(t *testing.T) {
	m := NewMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seed := []domain.Request{
		{ID: "r-c", ReaderID: "x", BookID: "b1", Status: domain.RequestQueued, CreatedAt: base.Add(2 * time.Minute)},
		{ID: "r-a", ReaderID: "y", BookID: "b1", Status: domain.RequestQueued, CreatedAt: base},
		{ID: "r-pending", ReaderID: "z", BookID: "b1", Status: domain.RequestPending, CreatedAt: base.Add(-time.Hour)},
		{ID: "r-other", ReaderID: "w", BookID: "b2", Status: domain.RequestQueued, CreatedAt: base.Add(-time.Hour)},
	}
	for _, r := range seed {
		if err := m.CreateRequest(r); err != nil {
			t.Fatalf("failed to seed request %s: %v", r.ID, err)
		}
	}

	head, ok, err := m.OldestQueuedRequest("b1")
	if err != nil || !ok {
		t.Fatalf("expected a queue head, ok=%v err=%v", ok, err)
	}
	if head.ID != "r-a" {
		t.Fatalf("expected oldest queued request r-a, got %s", head.ID)
	}

	// Equal timestamps fall back to ID order.
	if err := m.CreateRequest(domain.Request{ID: "r-0", ReaderID: "v", BookID: "b1", Status: domain.RequestQueued, CreatedAt: base}); err != nil {
		t.Fatalf("failed to seed tie request: %v", err)
	}
	head, _, err = m.OldestQueuedRequest("b1")
	if err != nil {
		t.Fatalf("failed to read queue head: %v", err)
	}
	if head.ID != "r-0" {
		t.Fatalf("expected ID tie-break to pick r-0, got %s", head.ID)
	}
}

func TestDeleteOpenRequestConditions(t *testing.T) {
	m := NewMemoryStore()
	seed := []domain.Request{
		{ID: "open", ReaderID: "alice", BookID: "b1", Status: domain.RequestQueued},
		{ID: "done", ReaderID: "alice", BookID: "b2", Status: domain.RequestFulfilled},
	}
	for _, r := range seed {
		if err := m.CreateRequest(r); err != nil {
			t.Fatalf("failed to seed request %s: %v", r.ID, err)
		}
	}

	if _, ok, _ := m.DeleteOpenRequest("open", "bob"); ok {
		t.Fatalf("delete must be refused for another reader")
	}
	if _, ok, _ := m.DeleteOpenRequest("done", "alice"); ok {
		t.Fatalf("delete must be refused for a fulfilled request")
	}
	removed, ok, err := m.DeleteOpenRequest("open", "alice")
	if err != nil || !ok {
		t.Fatalf("expected delete to succeed, ok=%v err=%v", ok, err)
	}
	if removed.ID != "open" {
		t.Fatalf("expected the deleted row back, got %s", removed.ID)
	}
	if _, ok, _ := m.GetRequest("open"); ok {
		t.Fatalf("request should be gone")
	}
}

func TestSetLoanReturnedOnlyWhileActive(t *testing.T) {
	m := NewMemoryStore()
	if err := m.CreateLoan(domain.Loan{ID: "l1", ReaderID: "alice", CopySerial: "b1-01", DueDate: time.Now()}); err != nil {
		t.Fatalf("failed to seed loan: %v", err)
	}
	at := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

	closed, ok, err := m.SetLoanReturned("l1", at)
	if err != nil || !ok {
		t.Fatalf("expected close to succeed, ok=%v err=%v", ok, err)
	}
	if closed.ReturnDate == nil || !closed.ReturnDate.Equal(at) {
		t.Fatalf("expected return date %s, got %v", at, closed.ReturnDate)
	}
	if _, ok, _ := m.SetLoanReturned("l1", at.Add(time.Hour)); ok {
		t.Fatalf("closing twice must be refused")
	}
}

func TestCountOpenRequestsExcludesFulfilled(t *testing.T) {
	m := NewMemoryStore()
	seed := []domain.Request{
		{ID: "q", ReaderID: "alice", BookID: "b1", Status: domain.RequestQueued},
		{ID: "p", ReaderID: "alice", BookID: "b2", Status: domain.RequestPending},
		{ID: "f", ReaderID: "alice", BookID: "b3", Status: domain.RequestFulfilled},
		{ID: "other", ReaderID: "bob", BookID: "b1", Status: domain.RequestQueued},
	}
	for _, r := range seed {
		if err := m.CreateRequest(r); err != nil {
			t.Fatalf("failed to seed request %s: %v", r.ID, err)
		}
	}
	count, err := m.CountOpenRequests("alice")
	if err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 open requests, got %d", count)
	}
	dup, err := m.HasOpenRequestForBook("alice", "b3")
	if err != nil {
		t.Fatalf("failed to check: %v", err)
	}
	if dup {
		t.Fatalf("fulfilled request must not count as open")
	}
}

func TestTransactSerializesAndNests(t *testing.T) {
	m := NewMemoryStore()
	seedCopy(t, m, "b1-01", "b1", domain.CopyAvailable)

	err := m.Transact(func(tx Store) error {
		ok, err := tx.CompareAndSetCopyStatus("b1-01", domain.CopyAvailable, domain.CopyReserved)
		if err != nil || !ok {
			t.Fatalf("swap inside transaction failed, ok=%v err=%v", ok, err)
		}
		// Re-entrant use of the transaction handle must not deadlock.
		return tx.Transact(func(inner Store) error {
			c, ok, err := inner.GetCopy("b1-01")
			if err != nil || !ok {
				t.Fatalf("failed to read copy in nested transaction, ok=%v err=%v", ok, err)
			}
			if c.Status != domain.CopyReserved {
				t.Fatalf("nested transaction must see outer writes, got %s", c.Status)
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
	c, _, err := m.GetCopy("b1-01")
	if err != nil {
		t.Fatalf("failed to reload copy: %v", err)
	}
	if c.Status != domain.CopyReserved {
		t.Fatalf("writes must persist after the transaction, got %s", c.Status)
	}
}

func TestListOverdueLoansPagination(t *testing.T) {
	m := NewMemoryStore()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		loan := domain.Loan{
			ID:         string(rune('a' + i)),
			ReaderID:   "r",
			CopySerial: "c",
			DueDate:    now.Add(-time.Duration(i+1) * time.Hour),
		}
		if err := m.CreateLoan(loan); err != nil {
			t.Fatalf("failed to seed loan: %v", err)
		}
	}

	page1, total, err := m.ListOverdueLoans(now, domain.Pagination{Limit: 3})
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if total != 4 || len(page1) != 3 {
		t.Fatalf("expected total=4 page of 3, got total=%d len=%d", total, len(page1))
	}
	page2, _, err := m.ListOverdueLoans(now, domain.Pagination{Limit: 3, Offset: 3})
	if err != nil {
		t.Fatalf("failed to list second page: %v", err)
	}
	if len(page2) != 1 {
		t.Fatalf("expected 1 loan on the second page, got %d", len(page2))
	}
	// Most overdue first.
	if page1[0].ID != "d" {
		t.Fatalf("expected oldest due date first, got %s", page1[0].ID)
	}
}
