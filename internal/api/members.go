package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"bookswap/internal/models"
	"bookswap/internal/validation"
)

func (h *handlers) registerMembers(r *gin.Engine) {
	r.POST("/members", func(c *gin.Context) {
		var req validation.CreateMemberRequest
		if err := validation.BindAndValidate(c, &req, h.v); err != nil {
			return
		}

		member, err := h.db.CreateMember(c.Request.Context(), models.Member{
			ID:             req.ID,
			Name:           req.Name,
			Email:          req.Email,
			TelegramChatID: req.TelegramChatID,
			Address:        req.Address.Model(),
		})
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.Header("Location", fmt.Sprintf("/members/%s", member.ID))
		c.JSON(http.StatusCreated, member)
	})

	r.GET("/members/:id", func(c *gin.Context) {
		member, err := h.db.GetMember(c.Request.Context(), c.Param("id"))
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, member)
	})

	r.POST("/books", func(c *gin.Context) {
		var req validation.CreateBookRequest
		if err := validation.BindAndValidate(c, &req, h.v); err != nil {
			return
		}

		book, err := h.db.CreateBook(c.Request.Context(), models.Book{
			ID:          req.ID,
			Title:       req.Title,
			Author:      req.Author,
			Description: req.Description,
		})
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.Header("Location", fmt.Sprintf("/books/%s", book.ID))
		c.JSON(http.StatusCreated, book)
	})

	r.GET("/books/:id", func(c *gin.Context) {
		book, err := h.db.GetBook(c.Request.Context(), c.Param("id"))
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, book)
	})

	r.GET("/members/:id/library", h.listBooks(func(c *gin.Context, memberID string) ([]models.Book, error) {
		return h.db.ListLibrary(c.Request.Context(), memberID)
	}))
	r.GET("/members/:id/offered", h.listBooks(func(c *gin.Context, memberID string) ([]models.Book, error) {
		return h.db.ListOffered(c.Request.Context(), memberID)
	}))

	r.PUT("/members/:id/library/:book_id", h.mutateCollection(func(c *gin.Context, memberID, bookID string) error {
		return h.db.AddToLibrary(c.Request.Context(), memberID, bookID)
	}))
	r.DELETE("/members/:id/library/:book_id", h.mutateCollection(func(c *gin.Context, memberID, bookID string) error {
		return h.db.RemoveFromLibrary(c.Request.Context(), memberID, bookID)
	}))
	r.PUT("/members/:id/offered/:book_id", h.mutateCollection(func(c *gin.Context, memberID, bookID string) error {
		return h.db.AddToOffered(c.Request.Context(), memberID, bookID)
	}))
	r.DELETE("/members/:id/offered/:book_id", h.mutateCollection(func(c *gin.Context, memberID, bookID string) error {
		return h.db.RemoveFromOffered(c.Request.Context(), memberID, bookID)
	}))
}

func (h *handlers) listBooks(list func(c *gin.Context, memberID string) ([]models.Book, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		memberID := c.Param("id")
		if _, err := h.db.GetMember(c.Request.Context(), memberID); err != nil {
			h.writeError(c, err)
			return
		}
		books, err := list(c, memberID)
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, books)
	}
}

// mutateCollection wraps an idempotent library or offered-set change
func (h *handlers) mutateCollection(mutate func(c *gin.Context, memberID, bookID string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := mutate(c, c.Param("id"), c.Param("book_id")); err != nil {
			h.writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
