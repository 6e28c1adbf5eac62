package cloudevents

import (
	"time"
)

// Event types emitted by the stock service
const (
	StockUpdated  = "tilestock.stock.updated"
	SaleCreated   = "tilestock.sale.created"
	SaleUpdated   = "tilestock.sale.updated"
	SaleCancelled = "tilestock.sale.cancelled"
	SaleDelivered = "tilestock.sale.delivered"
)

// SourceStockService is the CloudEvents source of this service
const SourceStockService = "/tilestock/stock-service"

// Extension attribute names
const (
	ExtShopID        = "tileshopid"
	ExtUserID        = "tileuserid"
	ExtCorrelationID = "tilecorrelationid"
)

// StockCloudEvent is a CloudEvents v1.0 envelope carrying a stock service event
type StockCloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	Type            string      `json:"type"`
	Source          string      `json:"source"`
	Subject         string      `json:"subject,omitempty"`
	ID              string      `json:"id"`
	Time            time.Time   `json:"time"`
	DataContentType string      `json:"datacontenttype"`
	Data            interface{} `json:"data"`

	// Extensions
	ShopID        string `json:"tileshopid,omitempty"`
	UserID        string `json:"tileuserid,omitempty"`
	CorrelationID string `json:"tilecorrelationid,omitempty"`

	// W3C trace context
	TraceParent string `json:"traceparent,omitempty"`
	TraceState  string `json:"tracestate,omitempty"`
}
