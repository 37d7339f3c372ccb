package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"bookswap/internal/matcher"
	"bookswap/internal/models"
	"bookswap/internal/validation"
)

func (h *handlers) registerRequests(r *gin.Engine) {
	r.POST("/requests", func(c *gin.Context) {
		var req validation.CreateExchangeRequest
		if err := validation.BindAndValidate(c, &req, h.v); err != nil {
			return
		}

		created, err := h.matcher.CreateRequest(c.Request.Context(), matcher.CreateRequestParams{
			SenderID:   req.SenderID,
			ReceiverID: req.ReceiverID,
			BookID:     req.BookID,
			Comment:    req.Comment,
		})
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.Header("Location", fmt.Sprintf("/requests/%s", created.ID))
		c.JSON(http.StatusCreated, created)
	})

	r.GET("/requests", func(c *gin.Context) {
		requests, err := h.matcher.FindRequests(c.Request.Context(), models.RequestFilter{
			Status:   models.RequestStatus(c.Query("status")),
			MemberID: c.Query("member_id"),
		})
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, requests)
	})

	r.GET("/requests/:id", func(c *gin.Context) {
		request, err := h.matcher.GetRequest(c.Request.Context(), c.Param("id"))
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, request)
	})

	r.POST("/requests/:id/accept", func(c *gin.Context) {
		var req validation.AcceptRequest
		if err := validation.BindAndValidate(c, &req, h.v); err != nil {
			return
		}

		ex, err := h.matcher.AcceptRequest(c.Request.Context(), matcher.AcceptRequestParams{
			RequestID:    c.Param("id"),
			ActorID:      req.ActorID,
			ChosenBookID: req.ChosenBookID,
		})
		if err != nil {
			h.writeError(c, err)
			return
		}
		if ex.ID == "" {
			// the request was already rejected, nothing was opened
			c.JSON(http.StatusOK, gin.H{"request_id": c.Param("id"), "status": models.RequestRejected})
			return
		}
		c.Header("Location", fmt.Sprintf("/exchanges/%s", ex.ID))
		c.JSON(http.StatusCreated, ex)
	})

	r.POST("/requests/:id/reject", func(c *gin.Context) {
		var req validation.RejectRequest
		if err := validation.BindAndValidate(c, &req, h.v); err != nil {
			return
		}

		if err := h.matcher.RejectRequest(c.Request.Context(), c.Param("id"), req.ActorID); err != nil {
			h.writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}
