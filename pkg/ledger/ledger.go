package ledger

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"bookshare/pkg/apperr"
	"bookshare/pkg/database"
	"bookshare/pkg/inventory"
	"bookshare/pkg/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type IDGen interface {
	New() string
}

type uuidGen struct{}

func (uuidGen) New() string { return uuid.New().String() }

// Service is the only writer of Transaction.status. Every transition commits
// together with the matching inventory update.
type Service struct {
	runner    *database.TxRunner
	inventory *inventory.Tracker
	clock     Clock
	id        IDGen
}

func NewService(runner *database.TxRunner, tracker *inventory.Tracker) *Service {
	return &Service{
		runner:    runner,
		inventory: tracker,
		clock:     realClock{},
		id:        uuidGen{},
	}
}

type BookSummary struct {
	BookUid  string `json:"bookUid"`
	Title    string `json:"title"`
	Author   string `json:"author"`
	CoverUrl string `json:"coverUrl"`
}

type BorrowerSummary struct {
	UserID string `json:"userId"`
}

type Loan struct {
	TransactionUid string          `json:"transactionUid"`
	BookUid        string          `json:"bookUid"`
	UserID         string          `json:"userId"`
	Status         string          `json:"status"`
	IssueDate      time.Time       `json:"issueDate"`
	DueDate        *time.Time      `json:"dueDate,omitempty"`
	ReturnDate     *time.Time      `json:"returnDate"`
	Book           BookSummary     `json:"book"`
	Borrower       BorrowerSummary `json:"borrower"`
}

// Borrow lends one copy of the book to userID.
func (s *Service) Borrow(ctx context.Context, bookUid, userID string) (*Loan, error) {
	if userID == "" {
		return nil, apperr.Unauthorized("no authenticated user")
	}
	if utf8.RuneCountInString(userID) > models.MaxUserIDLen {
		return nil, apperr.Invalid("user id is too long")
	}

	var loan models.Transaction
	err := s.runner.RunInTx(ctx, func(tx *gorm.DB) error {
		book, err := s.inventory.Lock(tx, bookUid)
		if err != nil {
			return err
		}
		if book.Stock <= 0 {
			return apperr.OutOfStock("no copies available")
		}

		var open int64
		if err := tx.Model(&models.Transaction{}).
			Where("book_id = ? AND user_id = ? AND status = ?", book.ID, userID, models.StatusActive).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return apperr.DuplicateLoan("you already borrowed this book")
		}

		now := s.clock.Now()
		loan = models.Transaction{
			TransactionUid: s.id.New(),
			BookID:         book.ID,
			UserID:         userID,
			Status:         models.StatusActive,
			IssueDate:      now,
		}
		if book.MaxDuration > 0 {
			due := now.AddDate(0, 0, book.MaxDuration)
			loan.DueDate = &due
		}
		if err := tx.Omit("Book").Create(&loan).Error; err != nil {
			if database.IsUniqueViolation(err) {
				return apperr.DuplicateLoan("you already borrowed this book")
			}
			return err
		}
		if err := s.inventory.Reserve(tx, book.ID); err != nil {
			return err
		}

		loan.Book = *book
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toLoan(&loan), nil
}

// Return closes a loan. Only the borrower or an administrator may do so.
func (s *Service) Return(ctx context.Context, transactionUid, requesterID string, requesterIsAdmin bool) (*Loan, error) {
	if requesterID == "" {
		return nil, apperr.Unauthorized("no authenticated user")
	}

	var loan *models.Transaction
	err := s.runner.RunInTx(ctx, func(tx *gorm.DB) error {
		var err error
		loan, err = loadLoan(database.ForUpdate(tx), transactionUid)
		if err != nil {
			return err
		}
		if !requesterIsAdmin && loan.UserID != requesterID {
			return apperr.Forbidden("only the borrower or an administrator can return this loan")
		}
		if loan.Status == models.StatusReturned {
			return apperr.AlreadyReturned("loan already returned")
		}

		now := s.clock.Now()
		res := tx.Model(&models.Transaction{}).
			Where("id = ? AND status = ?", loan.ID, models.StatusActive).
			Updates(map[string]interface{}{
				"status":      models.StatusReturned,
				"return_date": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.AlreadyReturned("loan already returned")
		}
		if err := s.inventory.Release(tx, loan.BookID); err != nil {
			return err
		}

		loan.Status = models.StatusReturned
		loan.ReturnDate = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toLoan(loan), nil
}

// Get returns a loan to its borrower, the book owner or an administrator.
func (s *Service) Get(ctx context.Context, transactionUid, requesterID string, requesterIsAdmin bool) (*Loan, error) {
	loan, err := loadLoan(s.runner.DB().WithContext(ctx), transactionUid)
	if err != nil {
		return nil, err
	}
	if !requesterIsAdmin && loan.UserID != requesterID && loan.Book.OwnerID != requesterID {
		return nil, apperr.Forbidden("not allowed to view this loan")
	}
	return toLoan(loan), nil
}

type LoanFilter struct {
	UserID string
	Status string
	Page   int
	Size   int
}

type LoanPage struct {
	Page          int    `json:"page"`
	PageSize      int    `json:"pageSize"`
	TotalElements int64  `json:"totalElements"`
	Items         []Loan `json:"items"`
}

// List pages through loans. Non-admins only ever see their own.
func (s *Service) List(ctx context.Context, f LoanFilter, requesterID string, requesterIsAdmin bool) (*LoanPage, error) {
	if !requesterIsAdmin {
		if f.UserID != "" && f.UserID != requesterID {
			return nil, apperr.Forbidden("not allowed to list loans of another user")
		}
		f.UserID = requesterID
	}
	if f.Status != "" && f.Status != models.StatusActive && f.Status != models.StatusReturned {
		return nil, apperr.Invalid("status must be Active or Returned")
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Size < 1 || f.Size > 100 {
		f.Size = 10
	}

	query := s.runner.DB().WithContext(ctx).Model(&models.Transaction{})
	if f.UserID != "" {
		query = query.Where("user_id = ?", f.UserID)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var rows []models.Transaction
	err := query.Preload("Book").
		Order("issue_date DESC").Order("id DESC").
		Offset((f.Page - 1) * f.Size).Limit(f.Size).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	items := make([]Loan, len(rows))
	for i := range rows {
		items[i] = *toLoan(&rows[i])
	}
	return &LoanPage{Page: f.Page, PageSize: f.Size, TotalElements: total, Items: items}, nil
}

func loadLoan(tx *gorm.DB, transactionUid string) (*models.Transaction, error) {
	if _, err := uuid.Parse(transactionUid); err != nil {
		return nil, apperr.NotFound("transaction not found")
	}
	var loan models.Transaction
	err := tx.Preload("Book").Where("transaction_uid = ?", transactionUid).First(&loan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("transaction not found")
		}
		return nil, err
	}
	return &loan, nil
}

func toLoan(t *models.Transaction) *Loan {
	return &Loan{
		TransactionUid: t.TransactionUid,
		BookUid:        t.Book.BookUid,
		UserID:         t.UserID,
		Status:         t.Status,
		IssueDate:      t.IssueDate,
		DueDate:        t.DueDate,
		ReturnDate:     t.ReturnDate,
		Book: BookSummary{
			BookUid:  t.Book.BookUid,
			Title:    t.Book.Title,
			Author:   t.Book.Author,
			CoverUrl: t.Book.CoverUrl,
		},
		Borrower: BorrowerSummary{UserID: t.UserID},
	}
}
