package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductSnapshot is the structured result of one successful extraction.
type ProductSnapshot struct {
	ID          string          `json:"id"`
	URL         string          `json:"url"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency,omitempty"`
	Stock       StockStatus     `json:"stock,omitempty"`
	Images      []string        `json:"images,omitempty"`
	SKU         string          `json:"sku,omitempty"`
	ExtractedAt time.Time       `json:"extracted_at"`
}

// PricePoint is one entry of a monitored product's price history.
type PricePoint struct {
	Value     decimal.Decimal `json:"value"`
	Timestamp time.Time       `json:"timestamp"`
}

// StockPoint is one entry of a monitored product's stock history.
type StockPoint struct {
	Value     StockStatus `json:"value"`
	Timestamp time.Time   `json:"timestamp"`
}

// MonitoredProduct is a product registered for recurring re-checks.
type MonitoredProduct struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	SourceURL            string          `json:"source_url"`
	CheckIntervalMinutes int             `json:"check_interval_minutes"`
	PriceAlertEnabled    bool            `json:"price_alert_enabled"`
	StockAlertEnabled    bool            `json:"stock_alert_enabled"`
	PriceDeltaThreshold  decimal.Decimal `json:"price_delta_threshold"`
	LastKnownPrice       decimal.Decimal `json:"last_known_price"`
	LastKnownStock       StockStatus     `json:"last_known_stock,omitempty"`
	LastCheckedAt        *time.Time      `json:"last_checked_at,omitempty"`
	PriceHistory         []PricePoint    `json:"price_history"`
	StockHistory         []StockPoint    `json:"stock_history"`
	Enabled              bool            `json:"enabled"`
	CreatedAt            time.Time       `json:"created_at"`
	ConsecutiveFailures  int             `json:"consecutive_failures"`
	LastError            string          `json:"last_error,omitempty"`
}

// Interval returns the configured check period.
func (p MonitoredProduct) Interval() time.Duration {
	return time.Duration(p.CheckIntervalMinutes) * time.Minute
}

// Clone returns a deep copy so callers never share history slices with the owner.
func (p MonitoredProduct) Clone() MonitoredProduct {
	out := p
	out.PriceHistory = append([]PricePoint(nil), p.PriceHistory...)
	out.StockHistory = append([]StockPoint(nil), p.StockHistory...)
	if p.LastCheckedAt != nil {
		t := *p.LastCheckedAt
		out.LastCheckedAt = &t
	}
	return out
}

// CheckOutcome is the transient diff produced by one monitoring check.
type CheckOutcome struct {
	PriceChanged  bool            `json:"price_changed"`
	StockChanged  bool            `json:"stock_changed"`
	PreviousPrice decimal.Decimal `json:"previous_price"`
	NewPrice      decimal.Decimal `json:"new_price"`
	PriceDelta    decimal.Decimal `json:"price_delta"`
	PricePercent  decimal.Decimal `json:"price_percent"`
	StockFrom     StockStatus     `json:"stock_from,omitempty"`
	StockTo       StockStatus     `json:"stock_to,omitempty"`
}

// Changed reports whether either tracked value moved.
func (o CheckOutcome) Changed() bool {
	return o.PriceChanged || o.StockChanged
}
