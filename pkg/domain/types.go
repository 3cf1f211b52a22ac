package domain

import "time"

type CopyStatus string

const (
	CopyAvailable CopyStatus = "AVAILABLE"
	CopyReserved  CopyStatus = "RESERVED"
	CopyBorrowed  CopyStatus = "BORROWED"
)

type AccessType string

const (
	AccessReadingRoom AccessType = "READING_ROOM"
	AccessTakeHome    AccessType = "TAKE_HOME"
)

type RequestStatus string

const (
	RequestPending   RequestStatus = "PENDING"
	RequestQueued    RequestStatus = "QUEUED"
	RequestFulfilled RequestStatus = "FULFILLED"
)

type ReaderRole string

const (
	RoleReader   ReaderRole = "reader"
	RoleEmployee ReaderRole = "employee"
	RoleAdmin    ReaderRole = "admin"
)

type Book struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Author    string            `json:"author"`
	Publisher string            `json:"publisher,omitempty"`
	Year      int               `json:"year"`
	CoverKey  string            `json:"-"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// Copy is a single physical copy of a book, identified by its serial number.
type Copy struct {
	SerialNum  string     `json:"serialNum"`
	BookID     string     `json:"bookId"`
	Status     CopyStatus `json:"status"`
	AccessType AccessType `json:"accessType"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Request is a reader's claim on a book. CreatedAt defines queue order.
type Request struct {
	ID        string        `json:"id"`
	ReaderID  string        `json:"readerId"`
	BookID    string        `json:"bookId"`
	Status    RequestStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
	Book      *Book         `json:"book,omitempty"`
}

// Loan owns exactly one copy for its duration. ReturnDate is nil while active.
type Loan struct {
	ID         string     `json:"id"`
	ReaderID   string     `json:"readerId"`
	CopySerial string     `json:"copySerial"`
	IssueDate  time.Time  `json:"issueDate"`
	DueDate    time.Time  `json:"dueDate"`
	ReturnDate *time.Time `json:"returnDate,omitempty"`
}

// Active reports whether the loan has not been returned yet.
func (l Loan) Active() bool { return l.ReturnDate == nil }

type Reader struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	PasswordHash string     `json:"-"`
	Role         ReaderRole `json:"role"`
	Verified     bool       `json:"verified"`
	CreatedAt    time.Time  `json:"createdAt"`
	Requests     []Request  `json:"requests,omitempty"`
}

// Pagination is the limit/offset contract shared by list operations.
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

const defaultPageLimit = 100

// Normalized returns the pagination with defaults applied.
func (p Pagination) Normalized() Pagination {
	if p.Limit <= 0 {
		p.Limit = defaultPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
