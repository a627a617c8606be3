// Package collector provides the in-page collector understood by the
// extraction service: a script for browser pages and an equivalent Go
// implementation for the plain HTTP gateway.
package collector

import (
	_ "embed"
	"encoding/json"

	"shopwatch/internal/gateway"
)

// Name is the global the page script installs.
const Name = "__shopwatchCollect"

// ActionCollect asks the collector for a product snapshot.
const ActionCollect = "collect"

//go:embed collector.js
var script string

// Reply is the collector wire format.
type Reply struct {
	OK      bool          `json:"ok"`
	Error   string        `json:"error,omitempty"`
	Product *ReplyProduct `json:"product,omitempty"`
}

// ReplyProduct carries raw, unnormalised page values.
type ReplyProduct struct {
	Name     string   `json:"name"`
	Price    string   `json:"price"`
	Currency string   `json:"currency"`
	Stock    string   `json:"stock"`
	SKU      string   `json:"sku"`
	Images   []string `json:"images"`
}

// Default returns the collector reference for gateway injection.
func Default() gateway.Collector {
	return gateway.Collector{Name: Name, Script: script, Native: collectNative}
}

// CollectRequest builds the request asking Name for a snapshot.
func CollectRequest() gateway.Request {
	return gateway.Request{Collector: Name, Action: ActionCollect}
}

func encode(r Reply) (gateway.Response, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return gateway.Response(b), nil
}
