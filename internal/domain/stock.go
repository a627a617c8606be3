package domain

import (
	"fmt"
	"strings"
)

// StockStatus is the closed set of availability states a collector can report.
type StockStatus string

const (
	StockUnknown    StockStatus = ""
	StockInStock    StockStatus = "in_stock"
	StockOutOfStock StockStatus = "out_of_stock"
	StockLow        StockStatus = "low_stock"
)

// Known reports whether s is one of the observable states.
func (s StockStatus) Known() bool {
	switch s {
	case StockInStock, StockOutOfStock, StockLow:
		return true
	}
	return false
}

// ParseStock normalises collector output such as "InStock",
// "https://schema.org/OutOfStock" or "low-stock".
func ParseStock(raw string) (StockStatus, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.LastIndex(v, "/"); i >= 0 {
		v = v[i+1:]
	}
	v = strings.NewReplacer("-", "", "_", "", " ", "").Replace(v)

	switch v {
	case "":
		return StockUnknown, nil
	case "instock", "available", "onlineonly", "instoreonly", "preorder", "presale":
		return StockInStock, nil
	case "outofstock", "soldout", "discontinued", "unavailable":
		return StockOutOfStock, nil
	case "lowstock", "limitedavailability", "limited", "few":
		return StockLow, nil
	}
	return StockUnknown, fmt.Errorf("unknown stock status %q", raw)
}
