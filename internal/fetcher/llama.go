package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/entrvpia/defillama-scraper/internal/normalize"
)

const (
	protocolPath = "/protocol/"

	marketCapLabel     = "Market Cap"
	annualRevenueLabel = "Annualized Revenue"
)

// LlamaOptions parameterise the DeFiLlama page fetcher.
type LlamaOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Llama scrapes protocol metrics from DeFiLlama protocol pages.
type Llama struct {
	opts    LlamaOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewLlama constructs a DeFiLlama fetcher.
func NewLlama(opts LlamaOptions, logger zerolog.Logger) *Llama {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://defillama.com"
	}

	return &Llama{
		opts:    opts,
		logger:  logger.With().Str("component", "llama_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchProtocol retrieves a protocol page and extracts the market cap and
// annualized revenue label values. A label absent from the page yields the
// "Not found" sentinel in the corresponding field.
func (l *Llama) FetchProtocol(ctx context.Context, protocol string) (normalize.RawItem, error) {
	if strings.TrimSpace(protocol) == "" {
		return normalize.RawItem{}, errors.New("protocol name required")
	}

	endpoint := l.baseURL + protocolPath + protocol
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return normalize.RawItem{}, err
	}
	req.Header.Set("Accept", "text/html")
	if ua := strings.TrimSpace(l.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "defillama-scraper/1.0")
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return normalize.RawItem{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return normalize.RawItem{}, fmt.Errorf("defillama page error (%d) for protocol %s", resp.StatusCode, protocol)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return normalize.RawItem{}, fmt.Errorf("parse protocol page: %w", err)
	}

	item := normalize.RawItem{
		EntityKey:        protocol,
		MarketCapRaw:     l.labelledValue(doc, "main p", marketCapLabel),
		AnnualRevenueRaw: l.labelledValue(doc, "main details summary", annualRevenueLabel),
	}

	l.logger.Debug().
		Str("protocol", protocol).
		Str("market_cap", item.MarketCapRaw).
		Str("annualized_revenue", item.AnnualRevenueRaw).
		Msg("protocol page scraped")

	return item, nil
}

// labelledValue finds the element whose first span matches the label and
// returns the trimmed text of its second span, or the sentinel on miss.
func (l *Llama) labelledValue(doc *goquery.Document, selector, label string) string {
	value := normalize.NotFoundSentinel
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		spans := s.Find("span")
		if spans.Length() < 2 {
			return true
		}
		if !strings.EqualFold(strings.TrimSpace(spans.First().Text()), label) {
			return true
		}
		if text := strings.TrimSpace(spans.Eq(1).Text()); text != "" {
			value = text
		}
		return false
	})
	return value
}

var _ MetricsFetcher = (*Llama)(nil)
