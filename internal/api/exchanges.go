package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bookswap/internal/models"
	"bookswap/internal/validation"
)

func (h *handlers) registerExchanges(r *gin.Engine) {
	r.GET("/exchanges", func(c *gin.Context) {
		exchanges, err := h.lifecycle.SearchExchanges(c.Request.Context(), models.ExchangeFilter{
			Status:   models.ExchangeStatus(c.Query("status")),
			MemberID: c.Query("member_id"),
		})
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, exchanges)
	})

	r.GET("/exchanges/:id", func(c *gin.Context) {
		ex, err := h.lifecycle.GetExchange(c.Request.Context(), c.Param("id"))
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, ex)
	})

	r.GET("/exchanges/:id/history", func(c *gin.Context) {
		events, err := h.lifecycle.History(c.Request.Context(), c.Param("id"))
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, events)
	})

	r.POST("/exchanges/:id/track", func(c *gin.Context) {
		var req validation.TrackRequest
		if err := validation.BindAndValidate(c, &req, h.v); err != nil {
			return
		}
		h.respondExchange(c)(h.lifecycle.SetTrack(c.Request.Context(), c.Param("id"), req.MemberID, req.Track))
	})

	r.POST("/exchanges/:id/no-track", func(c *gin.Context) {
		var req validation.MemberActionRequest
		if err := validation.BindAndValidate(c, &req, h.v); err != nil {
			return
		}
		h.respondExchange(c)(h.lifecycle.SetNoTrack(c.Request.Context(), c.Param("id"), req.MemberID))
	})

	r.POST("/exchanges/:id/receive", func(c *gin.Context) {
		var req validation.MemberActionRequest
		if err := validation.BindAndValidate(c, &req, h.v); err != nil {
			return
		}
		h.respondExchange(c)(h.lifecycle.ReceiveBook(c.Request.Context(), c.Param("id"), req.MemberID))
	})

	// Administrative transitions carry no body
	r.POST("/exchanges/:id/problems", func(c *gin.Context) {
		h.respondExchange(c)(h.lifecycle.SetProblemsStatus(c.Request.Context(), c.Param("id")))
	})
	r.POST("/exchanges/:id/cancel", func(c *gin.Context) {
		h.respondExchange(c)(h.lifecycle.CancelByAdmin(c.Request.Context(), c.Param("id")))
	})
}

func (h *handlers) respondExchange(c *gin.Context) func(models.Exchange, error) {
	return func(ex models.Exchange, err error) {
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, ex)
	}
}
