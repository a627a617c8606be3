package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"shopwatch/internal/gateway"
)

// collectNative mirrors collector.js over the static HTML of a page:
// JSON-LD Product first, then OpenGraph/product meta tags, then <title>.
func collectNative(ctx context.Context, doc gateway.Document, req gateway.Request) (gateway.Response, error) {
	if req.Action != ActionCollect {
		return encode(Reply{Error: fmt.Sprintf("unsupported action %s", req.Action)})
	}

	root, err := html.Parse(bytes.NewReader(doc.Body))
	if err != nil {
		return encode(Reply{Error: fmt.Sprintf("parse html: %v", err)})
	}

	page := scan(root)
	p := &ReplyProduct{
		Name:     first(page.ld.name, page.meta["og:title"], page.meta["twitter:title"], page.title),
		Price:    first(page.ld.price, page.meta["product:price:amount"], page.meta["og:price:amount"], page.meta["price"]),
		Currency: first(page.ld.currency, page.meta["product:price:currency"], page.meta["og:price:currency"], page.meta["pricecurrency"]),
		Stock:    first(page.ld.stock, page.meta["product:availability"], page.meta["og:availability"], page.meta["availability"]),
		SKU:      first(page.ld.sku, page.meta["product:retailer_item_id"]),
		Images:   page.ld.images,
	}
	if len(p.Images) == 0 && page.meta["og:image"] != "" {
		p.Images = []string{page.meta["og:image"]}
	}

	if p.Price == "" {
		return encode(Reply{Error: "price not found on page"})
	}
	return encode(Reply{OK: true, Product: p})
}

type ldProduct struct {
	name, price, currency, stock, sku string
	images                            []string
}

type scanned struct {
	title string
	meta  map[string]string
	ld    ldProduct
}

func scan(root *html.Node) scanned {
	out := scanned{meta: make(map[string]string)}
	var found bool

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Title:
				if out.title == "" && n.FirstChild != nil {
					out.title = strings.TrimSpace(n.FirstChild.Data)
				}
			case atom.Meta:
				key := strings.ToLower(firstAttr(n, "property", "name", "itemprop"))
				if key != "" {
					if _, seen := out.meta[key]; !seen {
						out.meta[key] = strings.TrimSpace(attr(n, "content"))
					}
				}
			case atom.Script:
				if !found && strings.EqualFold(attr(n, "type"), "application/ld+json") && n.FirstChild != nil {
					if p, ok := parseLD(n.FirstChild.Data); ok {
						out.ld = p
						found = true
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func parseLD(raw string) (ldProduct, bool) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return ldProduct{}, false
	}
	node := findProduct(v)
	if node == nil {
		return ldProduct{}, false
	}

	p := ldProduct{
		name: str(node["name"]),
		sku:  first(str(node["sku"]), str(node["productID"])),
	}
	for _, img := range list(node["image"]) {
		switch im := img.(type) {
		case string:
			p.images = append(p.images, im)
		case map[string]any:
			if u := str(im["url"]); u != "" {
				p.images = append(p.images, u)
			}
		}
	}
	if offers := list(node["offers"]); len(offers) > 0 {
		if offer, ok := offers[0].(map[string]any); ok {
			p.price = first(str(offer["price"]), str(offer["lowPrice"]))
			p.currency = str(offer["priceCurrency"])
			p.stock = str(offer["availability"])
		}
	}
	return p, true
}

func findProduct(v any) map[string]any {
	switch n := v.(type) {
	case []any:
		for _, item := range n {
			if p := findProduct(item); p != nil {
				return p
			}
		}
	case map[string]any:
		for _, t := range list(n["@type"]) {
			if str(t) == "Product" {
				return n
			}
		}
		return findProduct(n["@graph"])
	}
	return nil
}

func list(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	default:
		return []any{t}
	}
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	}
	return ""
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func firstAttr(n *html.Node, keys ...string) string {
	for _, k := range keys {
		if v := attr(n, k); v != "" {
			return v
		}
	}
	return ""
}
