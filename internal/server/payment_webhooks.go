package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/schoolhub/internal/subscription/webhook"
)

// HandlePaymentWebhook accepts the gateway notification as query parameters,
// a form or a JSON body. The gateway always gets a 200 acknowledgement.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	var n webhook.Notification
	_ = c.ShouldBindQuery(&n)

	if c.Request.Method == http.MethodPost && c.Request.ContentLength != 0 {
		var body webhook.Notification
		if err := c.ShouldBind(&body); err == nil {
			n = mergeNotification(n, body)
		}
	}

	ack := s.reconciler.Receive(c.Request.Context(), n)
	c.JSON(http.StatusOK, ack)
}

func mergeNotification(query, body webhook.Notification) webhook.Notification {
	if body.OrderTrackingID != "" {
		query.OrderTrackingID = body.OrderTrackingID
	}
	if body.OrderMerchantReference != "" {
		query.OrderMerchantReference = body.OrderMerchantReference
	}
	if body.OrderNotificationType != "" {
		query.OrderNotificationType = body.OrderNotificationType
	}
	return query
}
