package collector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"shopwatch/internal/gateway"
)

const ldPage = `<html><head><title>Fallback title</title>
<script type="application/ld+json">
{"@context":"https://schema.org","@graph":[
  {"@type":"BreadcrumbList"},
  {"@type":"Product","name":"Trail Runner 2","sku":"TR-2",
   "image":["https://cdn.example.com/a.jpg",{"url":"https://cdn.example.com/b.jpg"}],
   "offers":{"@type":"Offer","price":129.9,"priceCurrency":"EUR","availability":"https://schema.org/InStock"}}
]}
</script></head><body></body></html>`

const metaPage = `<html><head><title>Desk Lamp | Shop</title>
<meta property="og:title" content="Desk Lamp">
<meta property="product:price:amount" content="10,450">
<meta property="product:price:currency" content="KRW">
<meta property="product:availability" content="out of stock">
<meta property="og:image" content="https://cdn.example.com/lamp.jpg">
</head></html>`

func collect(t *testing.T, body string) Reply {
	t.Helper()
	raw, err := collectNative(context.Background(), gateway.Document{URL: "https://shop.example.com/p/1", Body: []byte(body)}, CollectRequest())
	if err != nil {
		t.Fatalf("collectNative: %v", err)
	}
	var r Reply
	if err := json.Unmarshal(raw, &r); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	return r
}

func TestCollectNativeJSONLD(t *testing.T) {
	r := collect(t, ldPage)
	if !r.OK || r.Product == nil {
		t.Fatalf("expected ok reply, got %+v", r)
	}
	p := r.Product
	if p.Name != "Trail Runner 2" || p.Price != "129.9" || p.Currency != "EUR" || p.SKU != "TR-2" {
		t.Fatalf("unexpected product %+v", p)
	}
	if !strings.HasSuffix(p.Stock, "InStock") {
		t.Fatalf("stock = %q", p.Stock)
	}
	if len(p.Images) != 2 {
		t.Fatalf("images = %v", p.Images)
	}
}

func TestCollectNativeMetaFallback(t *testing.T) {
	r := collect(t, metaPage)
	if !r.OK {
		t.Fatalf("expected ok reply, got %+v", r)
	}
	if r.Product.Name != "Desk Lamp" || r.Product.Price != "10,450" || r.Product.Stock != "out of stock" {
		t.Fatalf("unexpected product %+v", r.Product)
	}
	if len(r.Product.Images) != 1 {
		t.Fatalf("expected og:image fallback, got %v", r.Product.Images)
	}
}

func TestCollectNativeWithoutPrice(t *testing.T) {
	r := collect(t, `<html><head><title>About us</title></head></html>`)
	if r.OK || r.Error == "" {
		t.Fatalf("expected failure reply, got %+v", r)
	}
}

func TestCollectNativeUnsupportedAction(t *testing.T) {
	raw, err := collectNative(context.Background(), gateway.Document{}, gateway.Request{Collector: Name, Action: "ping"})
	if err != nil {
		t.Fatalf("collectNative: %v", err)
	}
	if !strings.Contains(string(raw), "unsupported action") {
		t.Fatalf("unexpected reply %s", raw)
	}
}

func TestDefaultCollectorThroughHTTPGateway(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(ldPage))
	}))
	defer srv.Close()

	gw := gateway.NewHTTP(gateway.HTTPOptions{Timeout: time.Second}, zerolog.Nop())
	ctx := context.Background()
	page, err := gw.Open(ctx, srv.URL+"/products/trail-runner")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer gw.Close(ctx, page)

	if err := gw.Inject(ctx, page, Default()); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	raw, err := gw.Send(ctx, page, CollectRequest())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.Contains(string(raw), "Trail Runner 2") {
		t.Fatalf("unexpected reply %s", raw)
	}
}

func TestDefaultScriptEmbedded(t *testing.T) {
	c := Default()
	if !strings.Contains(c.Script, Name) {
		t.Fatal("embedded script must install the collector global")
	}
}
