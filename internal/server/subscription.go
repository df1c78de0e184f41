package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/smallbiznis/schoolhub/internal/subscription/domain"
	"github.com/smallbiznis/schoolhub/pkg/db/pagination"
)

func (s *Server) Subscribe(c *gin.Context) {
	tenantID, ok := tenantIDFrom(c)
	if !ok {
		AbortWithError(c, ErrTenantRequired)
		return
	}

	var req subscriptiondomain.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.TenantID = tenantID

	resp, err := s.ledger.CreateOrder(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": resp})
}

func (s *Server) GetSubscriptionStatus(c *gin.Context) {
	tenantID, ok := tenantIDFrom(c)
	if !ok {
		AbortWithError(c, ErrTenantRequired)
		return
	}

	trackingID := strings.TrimSpace(c.Query("trackingId"))
	if trackingID == "" {
		trackingID = strings.TrimSpace(c.Query("OrderTrackingId"))
	}

	resp, err := s.ledger.PollStatus(c.Request.Context(), tenantID, trackingID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": resp})
}

func (s *Server) ListOrders(c *gin.Context) {
	tenantID, ok := tenantIDFrom(c)
	if !ok {
		AbortWithError(c, ErrTenantRequired)
		return
	}

	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledger.ListOrders(c.Request.Context(), subscriptiondomain.ListOrdersRequest{
		TenantID:  tenantID,
		PageToken: query.PageToken,
		PageSize:  query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": resp.Orders, "page_info": resp.PageInfo})
}

func (s *Server) DownloadReceipt(c *gin.Context) {
	tenantID, ok := tenantIDFrom(c)
	if !ok {
		AbortWithError(c, ErrTenantRequired)
		return
	}

	doc, filename, err := s.receipts.Generate(c.Request.Context(), tenantID, strings.TrimSpace(c.Param("orderId")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, "application/pdf", doc)
}
