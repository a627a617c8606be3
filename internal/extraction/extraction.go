// Package extraction turns collector replies into product snapshots.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"shopwatch/internal/collector"
	"shopwatch/internal/domain"
	"shopwatch/internal/gateway"
	"shopwatch/internal/urlutil"
)

// Service extracts a product snapshot from an open page.
type Service interface {
	Collect(ctx context.Context, page gateway.Page) (domain.ProductSnapshot, error)
}

// Error means a collector answered but could not produce a usable snapshot.
type Error struct {
	URL    string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("extraction failed for %s: %s", e.URL, e.Reason)
}

// CollectorService asks the page collector for data through the gateway.
type CollectorService struct {
	gw       gateway.Gateway
	request  gateway.Request
	sanitize *bluemonday.Policy
	logger   zerolog.Logger
	now      func() time.Time
}

// NewCollectorService wires the gateway used to reach page collectors.
func NewCollectorService(gw gateway.Gateway, logger zerolog.Logger) *CollectorService {
	return &CollectorService{
		gw:       gw,
		request:  collector.CollectRequest(),
		sanitize: bluemonday.StrictPolicy(),
		logger:   logger.With().Str("component", "extraction").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Collect requests a snapshot. Gateway errors, including
// gateway.ErrConnection, are returned unchanged so retry policies can
// classify them; collector-side failures come back as *Error.
func (s *CollectorService) Collect(ctx context.Context, page gateway.Page) (domain.ProductSnapshot, error) {
	raw, err := s.gw.Send(ctx, page, s.request)
	if err != nil {
		return domain.ProductSnapshot{}, err
	}

	var reply collector.Reply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return domain.ProductSnapshot{}, &Error{URL: page.URL(), Reason: fmt.Sprintf("malformed collector reply: %v", err)}
	}
	if !reply.OK || reply.Product == nil {
		reason := reply.Error
		if reason == "" {
			reason = "collector returned no product"
		}
		return domain.ProductSnapshot{}, &Error{URL: page.URL(), Reason: reason}
	}

	return s.normalize(page.URL(), reply.Product)
}

func (s *CollectorService) normalize(pageURL string, p *collector.ReplyProduct) (domain.ProductSnapshot, error) {
	price, err := ParsePrice(p.Price)
	if err != nil {
		return domain.ProductSnapshot{}, &Error{URL: pageURL, Reason: err.Error()}
	}

	stock, err := domain.ParseStock(p.Stock)
	if err != nil {
		s.logger.Debug().Str("url", pageURL).Str("stock", p.Stock).Msg("unrecognised stock value")
	}

	name := html.UnescapeString(s.sanitize.Sanitize(p.Name))
	name = strings.Join(strings.Fields(name), " ")

	images := make([]string, 0, len(p.Images))
	for _, img := range p.Images {
		if img = strings.TrimSpace(img); img != "" {
			images = append(images, img)
		}
	}

	return domain.ProductSnapshot{
		ID:          ProductID(pageURL),
		URL:         pageURL,
		Name:        name,
		Price:       price,
		Currency:    strings.ToUpper(strings.TrimSpace(p.Currency)),
		Stock:       stock,
		Images:      images,
		SKU:         strings.TrimSpace(p.SKU),
		ExtractedAt: s.now(),
	}, nil
}

// ProductID derives a stable id from the canonical page address so repeated
// collections of one page land on the same record.
func ProductID(pageURL string) string {
	key := pageURL
	if c, err := urlutil.Canonicalize(pageURL); err == nil {
		key = c
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

var _ Service = (*CollectorService)(nil)
