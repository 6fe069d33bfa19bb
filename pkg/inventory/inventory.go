package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"bookshare/pkg/apperr"
	"bookshare/pkg/database"
	"bookshare/pkg/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Tracker is the only writer of Book.stock. Reserve and Release run inside
// the caller's transaction; the remaining methods open their own.
type Tracker struct {
	runner *database.TxRunner
}

func NewTracker(runner *database.TxRunner) *Tracker {
	return &Tracker{runner: runner}
}

type NewBook struct {
	OwnerID     string
	Title       string
	Author      string
	Category    string
	Description string
	CoverUrl    string
	MaxDuration int
	Total       int
}

type BookView struct {
	BookUid     string    `json:"bookUid"`
	OwnerID     string    `json:"ownerId"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	CoverUrl    string    `json:"coverUrl"`
	MaxDuration int       `json:"maxDuration"`
	Stock       int       `json:"stock"`
	Total       int       `json:"total"`
	ActiveLoans int       `json:"activeLoans"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Discrepancy is a book whose stock and active loans do not add up to total.
type Discrepancy struct {
	BookUid string `json:"bookUid"`
	Stock   int    `json:"stock"`
	Total   int    `json:"total"`
	Active  int    `json:"active"`
}

// Reserve takes one copy out of stock. The decrement is conditional, so two
// transactions racing for the last copy cannot both succeed.
func (t *Tracker) Reserve(tx *gorm.DB, bookID uint) error {
	res := tx.Model(&models.Book{}).
		Where("id = ? AND stock > 0", bookID).
		Update("stock", gorm.Expr("stock - 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	exists, err := bookExists(tx, bookID)
	if err != nil {
		return err
	}
	if !exists {
		return apperr.NotFound("book not found")
	}
	return apperr.OutOfStock("no copies available")
}

// Release puts one copy back. Callers guarantee one Release per Reserve.
func (t *Tracker) Release(tx *gorm.DB, bookID uint) error {
	res := tx.Model(&models.Book{}).
		Where("id = ?", bookID).
		Update("stock", gorm.Expr("stock + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("book not found")
	}
	return nil
}

// Lock loads a book by its public id, row-locking it for the rest of tx.
func (t *Tracker) Lock(tx *gorm.DB, bookUid string) (*models.Book, error) {
	if _, err := uuid.Parse(bookUid); err != nil {
		return nil, apperr.NotFound("book not found")
	}
	var book models.Book
	if err := database.ForUpdate(tx).Where("book_uid = ?", bookUid).First(&book).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("book not found")
		}
		return nil, err
	}
	return &book, nil
}

func (t *Tracker) Register(ctx context.Context, in NewBook) (*BookView, error) {
	if strings.TrimSpace(in.OwnerID) == "" {
		return nil, apperr.Invalid("owner is required")
	}
	if utf8.RuneCountInString(in.OwnerID) > models.MaxUserIDLen {
		return nil, apperr.Invalid(fmt.Sprintf("owner must be at most %d characters", models.MaxUserIDLen))
	}
	if utf8.RuneCountInString(in.Category) > models.MaxCategoryLen {
		return nil, apperr.Invalid(fmt.Sprintf("category must be at most %d characters", models.MaxCategoryLen))
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, apperr.Invalid("title is required")
	}
	if in.Total < 1 {
		return nil, apperr.Invalid("total must be at least 1")
	}
	if in.MaxDuration < 0 {
		return nil, apperr.Invalid("maxDuration must not be negative")
	}

	book := models.Book{
		BookUid:     uuid.New().String(),
		OwnerID:     in.OwnerID,
		Title:       in.Title,
		Author:      in.Author,
		Category:    in.Category,
		Description: in.Description,
		CoverUrl:    in.CoverUrl,
		MaxDuration: in.MaxDuration,
		Stock:       in.Total,
		Total:       in.Total,
	}
	err := t.runner.RunInTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&book).Error
	})
	if err != nil {
		return nil, err
	}
	return toView(&book, 0), nil
}

func (t *Tracker) Get(ctx context.Context, bookUid string) (*BookView, error) {
	if _, err := uuid.Parse(bookUid); err != nil {
		return nil, apperr.NotFound("book not found")
	}
	db := t.runner.DB().WithContext(ctx)

	var book models.Book
	if err := db.Where("book_uid = ?", bookUid).First(&book).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("book not found")
		}
		return nil, err
	}
	active, err := countActive(db, book.ID)
	if err != nil {
		return nil, err
	}
	return toView(&book, active), nil
}

// Resize changes the number of registered copies. Stock is recomputed from
// the active loans so the conservation law holds after the edit.
func (t *Tracker) Resize(ctx context.Context, bookUid, requesterID string, requesterIsAdmin bool, newTotal int) (*BookView, error) {
	if newTotal < 1 {
		return nil, apperr.Invalid("total must be at least 1")
	}

	var view *BookView
	err := t.runner.RunInTx(ctx, func(tx *gorm.DB) error {
		book, err := t.Lock(tx, bookUid)
		if err != nil {
			return err
		}
		if !requesterIsAdmin && book.OwnerID != requesterID {
			return apperr.Forbidden("only the owner or an administrator can change copies")
		}
		active, err := countActive(tx, book.ID)
		if err != nil {
			return err
		}
		if newTotal < active {
			return apperr.Conflict("total cannot be lower than the number of copies on loan")
		}

		book.Total = newTotal
		book.Stock = newTotal - active
		if err := tx.Model(book).Updates(map[string]interface{}{
			"total": book.Total,
			"stock": book.Stock,
		}).Error; err != nil {
			return err
		}
		view = toView(book, active)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// Retire deletes a book and its returned-loan history. It is refused while
// any copy is on loan.
func (t *Tracker) Retire(ctx context.Context, bookUid, requesterID string, requesterIsAdmin bool) error {
	return t.runner.RunInTx(ctx, func(tx *gorm.DB) error {
		book, err := t.Lock(tx, bookUid)
		if err != nil {
			return err
		}
		if !requesterIsAdmin && book.OwnerID != requesterID {
			return apperr.Forbidden("only the owner or an administrator can delete a book")
		}
		active, err := countActive(tx, book.ID)
		if err != nil {
			return err
		}
		if active > 0 {
			return apperr.Conflict("book has copies on loan")
		}

		if err := tx.Where("book_id = ?", book.ID).Delete(&models.Transaction{}).Error; err != nil {
			return err
		}
		return tx.Delete(book).Error
	})
}

func (t *Tracker) Audit(ctx context.Context) ([]Discrepancy, error) {
	var out []Discrepancy
	err := t.runner.DB().WithContext(ctx).Raw(`
		SELECT b.book_uid AS book_uid, b.stock AS stock, b.total AS total, COUNT(t.id) AS active
		FROM books b
		LEFT JOIN transactions t ON t.book_id = b.id AND t.status = ?
		GROUP BY b.id, b.book_uid, b.stock, b.total
		HAVING b.stock < 0 OR b.stock + COUNT(t.id) <> b.total
		ORDER BY b.id`, models.StatusActive).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func countActive(tx *gorm.DB, bookID uint) (int, error) {
	var n int64
	err := tx.Model(&models.Transaction{}).
		Where("book_id = ? AND status = ?", bookID, models.StatusActive).
		Count(&n).Error
	return int(n), err
}

func bookExists(tx *gorm.DB, bookID uint) (bool, error) {
	var n int64
	if err := tx.Model(&models.Book{}).Where("id = ?", bookID).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func toView(b *models.Book, active int) *BookView {
	return &BookView{
		BookUid:     b.BookUid,
		OwnerID:     b.OwnerID,
		Title:       b.Title,
		Author:      b.Author,
		Category:    b.Category,
		Description: b.Description,
		CoverUrl:    b.CoverUrl,
		MaxDuration: b.MaxDuration,
		Stock:       b.Stock,
		Total:       b.Total,
		ActiveLoans: active,
		CreatedAt:   b.CreatedAt,
	}
}
