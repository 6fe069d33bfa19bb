package inventory

import (
	"context"
	"errors"
	"log"

	"bookshare/pkg/models"

	"gorm.io/gorm"
)

// demoBooks use fixed uids so seeding is repeatable across restarts.
var demoBooks = []models.Book{
	{
		BookUid:     "f7cdc58f-2caf-4b15-9727-f89dcc629b27",
		OwnerID:     "demo-owner",
		Title:       "The C++ Programming Language",
		Author:      "Bjarne Stroustrup",
		Category:    "Programming",
		MaxDuration: 14,
		Stock:       1,
		Total:       1,
	},
	{
		BookUid:     "3c1d6c7a-9b1e-4d55-8a31-6f2f1c0e9a42",
		OwnerID:     "demo-owner",
		Title:       "Roadside Picnic",
		Author:      "Arkady and Boris Strugatsky",
		Category:    "Science Fiction",
		MaxDuration: 21,
		Stock:       3,
		Total:       3,
	},
	{
		BookUid:  "8a0e4f52-1d3b-4b8e-bf2c-55d7a8c6e113",
		OwnerID:  "demo-librarian",
		Title:    "A Pattern Language",
		Author:   "Christopher Alexander",
		Category: "Architecture",
		Stock:    2,
		Total:    2,
	},
}

// Seed inserts the demo books that are not present yet and returns how many
// were created. Existing rows are left alone so live stock is never reset.
func (t *Tracker) Seed(ctx context.Context) (int, error) {
	created := 0
	for _, demo := range demoBooks {
		book := demo
		inserted := false
		err := t.runner.RunInTx(ctx, func(tx *gorm.DB) error {
			inserted = false
			var existing models.Book
			err := tx.Where("book_uid = ?", book.BookUid).First(&existing).Error
			if err == nil {
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			if err := tx.Create(&book).Error; err != nil {
				return err
			}
			inserted = true
			return nil
		})
		if err != nil {
			return created, err
		}
		if inserted {
			created++
			log.Printf("Created demo book: %s", book.Title)
		}
	}
	log.Printf("Demo data seeded, %d new books", created)
	return created, nil
}
