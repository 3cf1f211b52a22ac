package store

import (
	"sort"
	"sync"
	"time"

	"libraryweb/pkg/domain"
)

type memData struct {
	books     map[string]domain.Book
	bookOrder []string
	copies    map[string]domain.Copy
	requests  map[string]domain.Request
	loans     map[string]domain.Loan
	readers   map[string]domain.Reader
	emails    map[string]string // email -> reader ID
}

// MemoryStore keeps everything in-process. It serializes all operations on a
// single mutex, which gives it the same compare-and-swap guarantees as the
// SQL store. Transactions serialize but do not roll back; it is meant for
// tests and local runs, not production.
type MemoryStore struct {
	mu   *sync.Mutex
	inTx bool
	data *memData
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mu: &sync.Mutex{},
		data: &memData{
			books:    make(map[string]domain.Book),
			copies:   make(map[string]domain.Copy),
			requests: make(map[string]domain.Request),
			loans:    make(map[string]domain.Loan),
			readers:  make(map[string]domain.Reader),
			emails:   make(map[string]string),
		},
	}
}

// acquire locks the store unless this handle already runs inside Transact.
func (m *MemoryStore) acquire() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

// Transact holds the lock for the duration of fn, so everything fn does is
// one atomic unit with respect to other callers.
func (m *MemoryStore) Transact(fn func(Store) error) error {
	if m.inTx {
		return fn(m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&MemoryStore{mu: m.mu, inTx: true, data: m.data})
}

// --- books ---

func (m *MemoryStore) CreateBook(b domain.Book) error {
	defer m.acquire()()
	if _, exists := m.data.books[b.ID]; !exists {
		m.data.bookOrder = append(m.data.bookOrder, b.ID)
	}
	m.data.books[b.ID] = b
	return nil
}

func (m *MemoryStore) GetBook(id string) (domain.Book, bool, error) {
	defer m.acquire()()
	b, ok := m.data.books[id]
	return b, ok, nil
}

func (m *MemoryStore) ListBooks(p domain.Pagination) ([]domain.Book, int64, error) {
	defer m.acquire()()
	p = p.Normalized()
	all := make([]domain.Book, 0, len(m.data.bookOrder))
	for _, id := range m.data.bookOrder {
		if b, ok := m.data.books[id]; ok {
			all = append(all, b)
		}
	}
	return page(all, p), int64(len(all)), nil
}

func (m *MemoryStore) UpdateBook(b domain.Book) error {
	defer m.acquire()()
	if _, ok := m.data.books[b.ID]; !ok {
		return nil
	}
	b.UpdatedAt = time.Now().UTC()
	m.data.books[b.ID] = b
	return nil
}

func (m *MemoryStore) DeleteBook(id string) error {
	defer m.acquire()()
	delete(m.data.books, id)
	for serial, c := range m.data.copies {
		if c.BookID == id {
			delete(m.data.copies, serial)
		}
	}
	return nil
}

// --- copies ---

func (m *MemoryStore) CreateCopies(copies []domain.Copy) error {
	defer m.acquire()()
	for _, c := range copies {
		m.data.copies[c.SerialNum] = c
	}
	return nil
}

func (m *MemoryStore) GetCopy(serialNum string) (domain.Copy, bool, error) {
	defer m.acquire()()
	c, ok := m.data.copies[serialNum]
	return c, ok, nil
}

func (m *MemoryStore) ListCopiesByBook(bookID string) ([]domain.Copy, error) {
	defer m.acquire()()
	res := make([]domain.Copy, 0)
	for _, c := range m.data.copies {
		if c.BookID == bookID {
			res = append(res, c)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].SerialNum < res[j].SerialNum })
	return res, nil
}

func (m *MemoryStore) FindCopyByStatus(bookID string, status domain.CopyStatus) (domain.Copy, bool, error) {
	defer m.acquire()()
	return m.findCopyByStatus(bookID, status)
}

func (m *MemoryStore) findCopyByStatus(bookID string, status domain.CopyStatus) (domain.Copy, bool, error) {
	var serials []string
	for serial, c := range m.data.copies {
		if c.BookID == bookID && c.Status == status {
			serials = append(serials, serial)
		}
	}
	if len(serials) == 0 {
		return domain.Copy{}, false, nil
	}
	sort.Strings(serials)
	return m.data.copies[serials[0]], true, nil
}

func (m *MemoryStore) CompareAndSetCopyStatus(serialNum string, from, to domain.CopyStatus) (bool, error) {
	defer m.acquire()()
	c, ok := m.data.copies[serialNum]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	c.UpdatedAt = time.Now().UTC()
	m.data.copies[serialNum] = c
	return true, nil
}

// --- requests ---

func (m *MemoryStore) CreateRequest(r domain.Request) error {
	defer m.acquire()()
	r.Book = nil
	m.data.requests[r.ID] = r
	return nil
}

func (m *MemoryStore) GetRequest(id string) (domain.Request, bool, error) {
	defer m.acquire()()
	r, ok := m.data.requests[id]
	return r, ok, nil
}

func (m *MemoryStore) ListRequests(p domain.Pagination) ([]domain.Request, int64, error) {
	defer m.acquire()()
	p = p.Normalized()
	all := m.sortedRequests(func(domain.Request) bool { return true })
	return page(all, p), int64(len(all)), nil
}

func (m *MemoryStore) ListRequestsByReader(readerID string) ([]domain.Request, error) {
	defer m.acquire()()
	return m.sortedRequests(func(r domain.Request) bool { return r.ReaderID == readerID }), nil
}

func (m *MemoryStore) CountOpenRequests(readerID string) (int, error) {
	defer m.acquire()()
	count := 0
	for _, r := range m.data.requests {
		if r.ReaderID == readerID && r.Status != domain.RequestFulfilled {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) HasOpenRequestForBook(readerID, bookID string) (bool, error) {
	defer m.acquire()()
	for _, r := range m.data.requests {
		if r.ReaderID == readerID && r.BookID == bookID && r.Status != domain.RequestFulfilled {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) OldestQueuedRequest(bookID string) (domain.Request, bool, error) {
	defer m.acquire()()
	queued := m.sortedRequests(func(r domain.Request) bool {
		return r.BookID == bookID && r.Status == domain.RequestQueued
	})
	if len(queued) == 0 {
		return domain.Request{}, false, nil
	}
	return queued[0], true, nil
}

func (m *MemoryStore) SetRequestStatus(id string, status domain.RequestStatus) (domain.Request, bool, error) {
	defer m.acquire()()
	r, ok := m.data.requests[id]
	if !ok {
		return domain.Request{}, false, nil
	}
	r.Status = status
	m.data.requests[id] = r
	return r, true, nil
}

func (m *MemoryStore) CompareAndSetRequestStatus(id string, from, to domain.RequestStatus) (bool, error) {
	defer m.acquire()()
	r, ok := m.data.requests[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	m.data.requests[id] = r
	return true, nil
}

func (m *MemoryStore) DeleteOpenRequest(id, readerID string) (domain.Request, bool, error) {
	defer m.acquire()()
	r, ok := m.data.requests[id]
	if !ok || r.ReaderID != readerID || r.Status == domain.RequestFulfilled {
		return domain.Request{}, false, nil
	}
	delete(m.data.requests, id)
	return r, true, nil
}

// sortedRequests filters and orders requests by created_at with id tie-break,
// matching the SQL store's queue ordering.
func (m *MemoryStore) sortedRequests(keep func(domain.Request) bool) []domain.Request {
	res := make([]domain.Request, 0)
	for _, r := range m.data.requests {
		if keep(r) {
			res = append(res, r)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return res[i].ID < res[j].ID
	})
	return res
}

// --- loans ---

func (m *MemoryStore) CreateLoan(l domain.Loan) error {
	defer m.acquire()()
	m.data.loans[l.ID] = l
	return nil
}

func (m *MemoryStore) GetLoan(id string) (domain.Loan, bool, error) {
	defer m.acquire()()
	l, ok := m.data.loans[id]
	return l, ok, nil
}

func (m *MemoryStore) SetLoanReturned(id string, at time.Time) (domain.Loan, bool, error) {
	defer m.acquire()()
	l, ok := m.data.loans[id]
	if !ok || l.ReturnDate != nil {
		return domain.Loan{}, false, nil
	}
	at = at.UTC()
	l.ReturnDate = &at
	m.data.loans[id] = l
	return l, true, nil
}

func (m *MemoryStore) ActiveLoanByCopy(serialNum string) (domain.Loan, bool, error) {
	defer m.acquire()()
	for _, l := range m.data.loans {
		if l.CopySerial == serialNum && l.ReturnDate == nil {
			return l, true, nil
		}
	}
	return domain.Loan{}, false, nil
}

func (m *MemoryStore) HasActiveLoanForBook(bookID string) (bool, error) {
	defer m.acquire()()
	for _, l := range m.data.loans {
		if l.ReturnDate != nil {
			continue
		}
		if c, ok := m.data.copies[l.CopySerial]; ok && c.BookID == bookID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) ListOverdueLoans(now time.Time, p domain.Pagination) ([]domain.Loan, int64, error) {
	defer m.acquire()()
	p = p.Normalized()
	all := make([]domain.Loan, 0)
	for _, l := range m.data.loans {
		if l.ReturnDate == nil && l.DueDate.Before(now) {
			all = append(all, l)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].DueDate.Equal(all[j].DueDate) {
			return all[i].DueDate.Before(all[j].DueDate)
		}
		return all[i].ID < all[j].ID
	})
	return page(all, p), int64(len(all)), nil
}

// --- readers ---

func (m *MemoryStore) CreateReader(r domain.Reader) error {
	defer m.acquire()()
	m.data.readers[r.ID] = r
	m.data.emails[r.Email] = r.ID
	return nil
}

func (m *MemoryStore) GetReader(id string) (domain.Reader, bool, error) {
	defer m.acquire()()
	r, ok := m.data.readers[id]
	return r, ok, nil
}

func (m *MemoryStore) GetReaderByEmail(email string) (domain.Reader, bool, error) {
	defer m.acquire()()
	id, ok := m.data.emails[email]
	if !ok {
		return domain.Reader{}, false, nil
	}
	r, ok := m.data.readers[id]
	return r, ok, nil
}

func (m *MemoryStore) SetReaderVerified(id string) error {
	defer m.acquire()()
	r, ok := m.data.readers[id]
	if !ok {
		return nil
	}
	r.Verified = true
	m.data.readers[id] = r
	return nil
}

func page[T any](all []T, p domain.Pagination) []T {
	if p.Offset >= len(all) {
		return []T{}
	}
	end := p.Offset + p.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[p.Offset:end]
}
