package main

import (
	"log"
	"net/http"
	"strconv"

	"bookshare/pkg/apperr"
	"bookshare/pkg/auth"
	"bookshare/pkg/inventory"
	"bookshare/pkg/ledger"

	"github.com/gin-gonic/gin"
)

type borrowRequest struct {
	BookUid string `json:"bookUid" binding:"required"`
}

type registerRequest struct {
	Title       string `json:"title" binding:"required"`
	Author      string `json:"author"`
	Category    string `json:"category"`
	Description string `json:"description"`
	CoverUrl    string `json:"coverUrl"`
	MaxDuration int    `json:"maxDuration"`
	Total       int    `json:"total" binding:"required"`
}

type resizeRequest struct {
	Total int `json:"total" binding:"required"`
}

// fail writes err and logs it when it is not a business error.
func fail(c *gin.Context, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		log.Printf("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
	}
	apperr.Abort(c, err)
}

func borrowBook(c *gin.Context) {
	id, err := auth.IdentityFrom(c)
	if err != nil {
		fail(c, err)
		return
	}

	var req borrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperr.Invalid("bookUid is required"))
		return
	}

	loan, err := loans.Borrow(c.Request.Context(), req.BookUid, id.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, loan)
}

func returnBook(c *gin.Context) {
	id, err := auth.IdentityFrom(c)
	if err != nil {
		fail(c, err)
		return
	}

	loan, err := loans.Return(c.Request.Context(), c.Param("transactionUid"), id.UserID, id.IsAdmin)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, loan)
}

func getLoan(c *gin.Context) {
	id, err := auth.IdentityFrom(c)
	if err != nil {
		fail(c, err)
		return
	}

	loan, err := loans.Get(c.Request.Context(), c.Param("transactionUid"), id.UserID, id.IsAdmin)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, loan)
}

func listLoans(c *gin.Context) {
	id, err := auth.IdentityFrom(c)
	if err != nil {
		fail(c, err)
		return
	}

	// out-of-range values fall back to the ledger's defaults
	page, _ := strconv.Atoi(c.Query("page"))
	size, _ := strconv.Atoi(c.Query("size"))

	result, err := loans.List(c.Request.Context(), ledger.LoanFilter{
		UserID: c.Query("userId"),
		Status: c.Query("status"),
		Page:   page,
		Size:   size,
	}, id.UserID, id.IsAdmin)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func registerBook(c *gin.Context) {
	id, err := auth.IdentityFrom(c)
	if err != nil {
		fail(c, err)
		return
	}

	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperr.Invalid("title and total are required"))
		return
	}

	book, err := books.Register(c.Request.Context(), inventory.NewBook{
		OwnerID:     id.UserID,
		Title:       req.Title,
		Author:      req.Author,
		Category:    req.Category,
		Description: req.Description,
		CoverUrl:    req.CoverUrl,
		MaxDuration: req.MaxDuration,
		Total:       req.Total,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, book)
}

func getBook(c *gin.Context) {
	book, err := books.Get(c.Request.Context(), c.Param("bookUid"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

func resizeBook(c *gin.Context) {
	id, err := auth.IdentityFrom(c)
	if err != nil {
		fail(c, err)
		return
	}

	var req resizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperr.Invalid("total is required"))
		return
	}

	book, err := books.Resize(c.Request.Context(), c.Param("bookUid"), id.UserID, id.IsAdmin, req.Total)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

func retireBook(c *gin.Context) {
	id, err := auth.IdentityFrom(c)
	if err != nil {
		fail(c, err)
		return
	}

	if err := books.Retire(c.Request.Context(), c.Param("bookUid"), id.UserID, id.IsAdmin); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
