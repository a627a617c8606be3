package monitor

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"shopwatch/internal/domain"
)

// ComposeAlert renders the notification for one check outcome. An empty
// message means nothing should be sent.
func ComposeAlert(p domain.MonitoredProduct, o domain.CheckOutcome) (title, message string) {
	var lines []string
	if p.PriceAlertEnabled && o.PriceChanged && o.PriceDelta.Abs().GreaterThanOrEqual(p.PriceDeltaThreshold) {
		lines = append(lines, fmt.Sprintf("Price: %s → %s (%s, %s%%)",
			o.PreviousPrice.String(), o.NewPrice.String(),
			signed(o.PriceDelta.String(), o.PriceDelta), signed(o.PricePercent.StringFixed(2), o.PricePercent)))
	}
	if p.StockAlertEnabled && o.StockChanged {
		lines = append(lines, fmt.Sprintf("Stock: %s → %s", stockLabel(o.StockFrom), stockLabel(o.StockTo)))
	}
	if len(lines) == 0 {
		return "", ""
	}

	title = p.Name
	if title == "" {
		title = p.SourceURL
	}
	return title, strings.Join(lines, "\n")
}

func signed(s string, d decimal.Decimal) string {
	if d.Sign() > 0 {
		return "+" + s
	}
	return s
}

func stockLabel(s domain.StockStatus) string {
	if s == domain.StockUnknown {
		return "unknown"
	}
	return string(s)
}
