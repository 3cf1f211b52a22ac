package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"libraryweb/pkg/domain"
)

const migrateLockID int64 = 52145214

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&BookModel{}, &CopyModel{}, &RequestModel{}, &LoanModel{}, &ReaderModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Transact runs fn against a store bound to one transaction.
func (s *GormStore) Transact(fn func(Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

// --- books ---

// CreateBook inserts a book record.
func (s *GormStore) CreateBook(b domain.Book) error {
	model, err := bookToModel(b)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// GetBook retrieves a book by ID.
func (s *GormStore) GetBook(id string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// ListBooks returns a page of books ordered by creation and the total count.
func (s *GormStore) ListBooks(p domain.Pagination) ([]domain.Book, int64, error) {
	p = p.Normalized()
	var total int64
	if err := s.db.Model(&BookModel{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var models []BookModel
	if err := s.db.Order("created_at ASC, id ASC").Limit(p.Limit).Offset(p.Offset).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, total, nil
}

// UpdateBook replaces book metadata.
func (s *GormStore) UpdateBook(b domain.Book) error {
	model, err := bookToModel(b)
	if err != nil {
		return err
	}
	return s.db.Model(&BookModel{}).Where("id = ?", b.ID).Updates(map[string]any{
		"title":      model.Title,
		"author":     model.Author,
		"publisher":  model.Publisher,
		"year":       model.Year,
		"cover_key":  model.CoverKey,
		"metadata":   model.Metadata,
		"updated_at": time.Now().UTC(),
	}).Error
}

// DeleteBook removes the book and its copies.
func (s *GormStore) DeleteBook(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&CopyModel{}, "book_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&BookModel{}, "id = ?", id).Error
	})
}

// --- copies ---

// CreateCopies bulk-inserts copies.
func (s *GormStore) CreateCopies(copies []domain.Copy) error {
	if len(copies) == 0 {
		return nil
	}
	models := make([]CopyModel, 0, len(copies))
	for _, c := range copies {
		models = append(models, copyToModel(c))
	}
	return s.db.Create(&models).Error
}

// GetCopy retrieves a copy by serial number.
func (s *GormStore) GetCopy(serialNum string) (domain.Copy, bool, error) {
	var model CopyModel
	if err := s.db.First(&model, "serial_num = ?", serialNum).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Copy{}, false, nil
		}
		return domain.Copy{}, false, err
	}
	return copyFromModel(model), true, nil
}

// ListCopiesByBook returns all copies of a book ordered by serial.
func (s *GormStore) ListCopiesByBook(bookID string) ([]domain.Copy, error) {
	var models []CopyModel
	if err := s.db.Where("book_id = ?", bookID).Order("serial_num ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Copy, 0, len(models))
	for _, m := range models {
		res = append(res, copyFromModel(m))
	}
	return res, nil
}

// FindCopyByStatus returns any copy of the book in the given status.
func (s *GormStore) FindCopyByStatus(bookID string, status domain.CopyStatus) (domain.Copy, bool, error) {
	var model CopyModel
	err := s.db.Where("book_id = ? AND status = ?", bookID, string(status)).
		Order("serial_num ASC").
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Copy{}, false, nil
		}
		return domain.Copy{}, false, err
	}
	return copyFromModel(model), true, nil
}

// CompareAndSetCopyStatus is the single write path for copy status. The
// conditional UPDATE guarantees two concurrent callers cannot both move the
// same copy out of the expected status.
func (s *GormStore) CompareAndSetCopyStatus(serialNum string, from, to domain.CopyStatus) (bool, error) {
	res := s.db.Model(&CopyModel{}).
		Where("serial_num = ? AND status = ?", serialNum, string(from)).
		Updates(map[string]any{
			"status":     string(to),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// --- requests ---

// CreateRequest inserts a request record.
func (s *GormStore) CreateRequest(r domain.Request) error {
	model := requestToModel(r)
	return s.db.Create(&model).Error
}

// GetRequest retrieves a request by ID.
func (s *GormStore) GetRequest(id string) (domain.Request, bool, error) {
	var model RequestModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Request{}, false, nil
		}
		return domain.Request{}, false, err
	}
	return requestFromModel(model), true, nil
}

// ListRequests returns a page of requests ordered by creation and the total.
func (s *GormStore) ListRequests(p domain.Pagination) ([]domain.Request, int64, error) {
	p = p.Normalized()
	var total int64
	if err := s.db.Model(&RequestModel{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var models []RequestModel
	if err := s.db.Order("created_at ASC, id ASC").Limit(p.Limit).Offset(p.Offset).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	res := make([]domain.Request, 0, len(models))
	for _, m := range models {
		res = append(res, requestFromModel(m))
	}
	return res, total, nil
}

// ListRequestsByReader returns all requests of a reader, newest last.
func (s *GormStore) ListRequestsByReader(readerID string) ([]domain.Request, error) {
	var models []RequestModel
	if err := s.db.Where("reader_id = ?", readerID).Order("created_at ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Request, 0, len(models))
	for _, m := range models {
		res = append(res, requestFromModel(m))
	}
	return res, nil
}

// CountOpenRequests counts the reader's non-fulfilled requests.
func (s *GormStore) CountOpenRequests(readerID string) (int, error) {
	var count int64
	err := s.db.Model(&RequestModel{}).
		Where("reader_id = ? AND status <> ?", readerID, string(domain.RequestFulfilled)).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// HasOpenRequestForBook reports whether the reader already has a
// non-fulfilled request for the book.
func (s *GormStore) HasOpenRequestForBook(readerID, bookID string) (bool, error) {
	var count int64
	err := s.db.Model(&RequestModel{}).
		Where("reader_id = ? AND book_id = ? AND status <> ?", readerID, bookID, string(domain.RequestFulfilled)).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// OldestQueuedRequest returns the head of the book's FIFO queue.
func (s *GormStore) OldestQueuedRequest(bookID string) (domain.Request, bool, error) {
	var model RequestModel
	err := s.db.Where("book_id = ? AND status = ?", bookID, string(domain.RequestQueued)).
		Order("created_at ASC, id ASC").
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Request{}, false, nil
		}
		return domain.Request{}, false, err
	}
	return requestFromModel(model), true, nil
}

// SetRequestStatus unconditionally writes a request status.
func (s *GormStore) SetRequestStatus(id string, status domain.RequestStatus) (domain.Request, bool, error) {
	res := s.db.Model(&RequestModel{}).Where("id = ?", id).Update("status", string(status))
	if res.Error != nil {
		return domain.Request{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Request{}, false, nil
	}
	return s.GetRequest(id)
}

// CompareAndSetRequestStatus moves a request between statuses atomically.
func (s *GormStore) CompareAndSetRequestStatus(id string, from, to domain.RequestStatus) (bool, error) {
	res := s.db.Model(&RequestModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Update("status", string(to))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// DeleteOpenRequest deletes the request when owned by the reader and not yet
// fulfilled, returning the removed row.
func (s *GormStore) DeleteOpenRequest(id, readerID string) (domain.Request, bool, error) {
	var removed domain.Request
	found := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var model RequestModel
		err := tx.Where("id = ? AND reader_id = ? AND status <> ?", id, readerID, string(domain.RequestFulfilled)).
			First(&model).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		res := tx.Where("id = ? AND reader_id = ? AND status <> ?", id, readerID, string(domain.RequestFulfilled)).
			Delete(&RequestModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		removed = requestFromModel(model)
		found = true
		return nil
	})
	return removed, found, err
}

// --- loans ---

// CreateLoan inserts a loan record.
func (s *GormStore) CreateLoan(l domain.Loan) error {
	model := loanToModel(l)
	return s.db.Create(&model).Error
}

// GetLoan retrieves a loan by ID.
func (s *GormStore) GetLoan(id string) (domain.Loan, bool, error) {
	var model LoanModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Loan{}, false, nil
		}
		return domain.Loan{}, false, err
	}
	return loanFromModel(model), true, nil
}

// SetLoanReturned closes an active loan. Returns false when the loan does not
// exist or was returned already.
func (s *GormStore) SetLoanReturned(id string, at time.Time) (domain.Loan, bool, error) {
	res := s.db.Model(&LoanModel{}).
		Where("id = ? AND return_date IS NULL", id).
		Update("return_date", at.UTC())
	if res.Error != nil {
		return domain.Loan{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Loan{}, false, nil
	}
	return s.GetLoan(id)
}

// ActiveLoanByCopy returns the open loan holding the copy, if any.
func (s *GormStore) ActiveLoanByCopy(serialNum string) (domain.Loan, bool, error) {
	var model LoanModel
	err := s.db.Where("copy_serial = ? AND return_date IS NULL", serialNum).First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Loan{}, false, nil
		}
		return domain.Loan{}, false, err
	}
	return loanFromModel(model), true, nil
}

// HasActiveLoanForBook reports whether any copy of the book is out on loan.
func (s *GormStore) HasActiveLoanForBook(bookID string) (bool, error) {
	var count int64
	err := s.db.Model(&LoanModel{}).
		Joins("JOIN copy_models ON copy_models.serial_num = loan_models.copy_serial").
		Where("copy_models.book_id = ? AND loan_models.return_date IS NULL", bookID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListOverdueLoans returns active loans past their due date, oldest due first.
func (s *GormStore) ListOverdueLoans(now time.Time, p domain.Pagination) ([]domain.Loan, int64, error) {
	p = p.Normalized()
	base := s.db.Model(&LoanModel{}).Where("return_date IS NULL AND due_date < ?", now.UTC())
	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var models []LoanModel
	err := s.db.Where("return_date IS NULL AND due_date < ?", now.UTC()).
		Order("due_date ASC, id ASC").
		Limit(p.Limit).
		Offset(p.Offset).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}
	res := make([]domain.Loan, 0, len(models))
	for _, m := range models {
		res = append(res, loanFromModel(m))
	}
	return res, total, nil
}

// --- readers ---

// CreateReader registers a reader.
func (s *GormStore) CreateReader(r domain.Reader) error {
	model := readerToModel(r)
	return s.db.Create(&model).Error
}

// GetReader returns a reader by ID.
func (s *GormStore) GetReader(id string) (domain.Reader, bool, error) {
	var model ReaderModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Reader{}, false, nil
		}
		return domain.Reader{}, false, err
	}
	return readerFromModel(model), true, nil
}

// GetReaderByEmail looks up a reader by email.
func (s *GormStore) GetReaderByEmail(email string) (domain.Reader, bool, error) {
	var model ReaderModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Reader{}, false, nil
		}
		return domain.Reader{}, false, err
	}
	return readerFromModel(model), true, nil
}

// SetReaderVerified marks the reader's email as confirmed.
func (s *GormStore) SetReaderVerified(id string) error {
	return s.db.Model(&ReaderModel{}).Where("id = ?", id).Update("verified", true).Error
}

// --- conversions ---

func bookToModel(b domain.Book) (BookModel, error) {
	var meta datatypes.JSON
	if len(b.Metadata) > 0 {
		raw, err := json.Marshal(b.Metadata)
		if err != nil {
			return BookModel{}, fmt.Errorf("marshal book metadata: %w", err)
		}
		meta = datatypes.JSON(raw)
	}
	return BookModel{
		ID:        b.ID,
		Title:     b.Title,
		Author:    b.Author,
		Publisher: b.Publisher,
		Year:      b.Year,
		CoverKey:  b.CoverKey,
		Metadata:  meta,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}, nil
}

func bookFromModel(m BookModel) domain.Book {
	var meta map[string]string
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &meta)
	}
	return domain.Book{
		ID:        m.ID,
		Title:     m.Title,
		Author:    m.Author,
		Publisher: m.Publisher,
		Year:      m.Year,
		CoverKey:  m.CoverKey,
		Metadata:  meta,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func copyToModel(c domain.Copy) CopyModel {
	return CopyModel{
		SerialNum:  c.SerialNum,
		BookID:     c.BookID,
		Status:     string(c.Status),
		AccessType: string(c.AccessType),
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

func copyFromModel(m CopyModel) domain.Copy {
	return domain.Copy{
		SerialNum:  m.SerialNum,
		BookID:     m.BookID,
		Status:     domain.CopyStatus(m.Status),
		AccessType: domain.AccessType(m.AccessType),
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func requestToModel(r domain.Request) RequestModel {
	return RequestModel{
		ID:        r.ID,
		ReaderID:  r.ReaderID,
		BookID:    r.BookID,
		Status:    string(r.Status),
		CreatedAt: r.CreatedAt,
	}
}

func requestFromModel(m RequestModel) domain.Request {
	return domain.Request{
		ID:        m.ID,
		ReaderID:  m.ReaderID,
		BookID:    m.BookID,
		Status:    domain.RequestStatus(m.Status),
		CreatedAt: m.CreatedAt,
	}
}

func loanToModel(l domain.Loan) LoanModel {
	return LoanModel{
		ID:         l.ID,
		ReaderID:   l.ReaderID,
		CopySerial: l.CopySerial,
		IssueDate:  l.IssueDate,
		DueDate:    l.DueDate,
		ReturnDate: l.ReturnDate,
	}
}

func loanFromModel(m LoanModel) domain.Loan {
	return domain.Loan{
		ID:         m.ID,
		ReaderID:   m.ReaderID,
		CopySerial: m.CopySerial,
		IssueDate:  m.IssueDate,
		DueDate:    m.DueDate,
		ReturnDate: m.ReturnDate,
	}
}

func readerToModel(r domain.Reader) ReaderModel {
	return ReaderModel{
		ID:           r.ID,
		Email:        r.Email,
		Name:         r.Name,
		PasswordHash: r.PasswordHash,
		Role:         string(r.Role),
		Verified:     r.Verified,
		CreatedAt:    r.CreatedAt,
	}
}

func readerFromModel(m ReaderModel) domain.Reader {
	return domain.Reader{
		ID:           m.ID,
		Email:        m.Email,
		Name:         m.Name,
		PasswordHash: m.PasswordHash,
		Role:         domain.ReaderRole(m.Role),
		Verified:     m.Verified,
		CreatedAt:    m.CreatedAt,
	}
}
