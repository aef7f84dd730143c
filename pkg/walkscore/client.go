// Package walkscore scrapes per-city neighborhood walkability tables from
// the Walk Score website. There is no public API for the neighborhood
// ranking pages, so this client parses the HTML table directly.
package walkscore

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/sells-group/atlas-cli/internal/fetcher"
	"github.com/sells-group/atlas-cli/internal/model"
	"github.com/sells-group/atlas-cli/internal/resilience"
)

// DefaultBaseURL is the public Walk Score site.
const DefaultBaseURL = "https://www.walkscore.com"

// tableID identifies the neighborhood ranking table on a city page.
const tableID = "hoods-list-table"

const userAgent = "Mozilla/5.0 (compatible; atlas-cli/1.0)"

// Config configures the scraper. Zero fields take defaults.
type Config struct {
	BaseURL          string
	Timeout          time.Duration
	MaxRetries       int
	RatePerSec       float64
	FailureThreshold int
	ResetTimeout     time.Duration
}

// Client scrapes neighborhood walkability tables one city at a time. Cities
// share a circuit breaker: after enough consecutive failed cities the
// breaker opens and the rest fail fast instead of hammering the site.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
	breaker    *resilience.CircuitBreaker
}

// NewClient creates a scraper client with the given config.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RatePerSec == 0 {
		cfg.RatePerSec = 1
	}
	burst := int(cfg.RatePerSec)
	if burst < 1 {
		burst = 1
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.MaxRetries
	retry.OnRetry = resilience.RetryLogger("walkscore", "fetch")

	cbCfg := resilience.FromCircuitConfig(cfg.FailureThreshold, int(cfg.ResetTimeout/time.Second))
	cbCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("walkscore circuit state changed",
			zap.String("component", "walkscore"),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst),
		retry:      retry,
		breaker:    resilience.NewCircuitBreaker(cbCfg),
	}
}

// CityNeighborhoods scrapes the walkability table for one city. Every row
// keeps its cell text verbatim; numeric parsing happens downstream so a
// malformed cell degrades one metric instead of dropping the row.
func (c *Client) CityNeighborhoods(ctx context.Context, city, state string) ([]model.WalkabilityRow, error) {
	if city == "" || state == "" {
		return nil, eris.New("walkscore: city and state are required")
	}

	rawURL := c.cityURL(city, state)
	log := zap.L().With(
		zap.String("component", "walkscore"),
		zap.String("city", city),
		zap.String("state", state),
	)
	log.Debug("scraping walkability table", zap.String("url", rawURL))

	rows, err := resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) ([]model.WalkabilityRow, error) {
		root, err := c.fetchPage(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		return parseTable(root, city, state)
	})
	if err != nil {
		return nil, err
	}

	log.Info("city walkability scraped", zap.Int("rows", len(rows)))
	return rows, nil
}

// cityURL builds the scrape URL. City spaces become underscores; the one
// path that does not follow the {STATE}/{City_Name} pattern is Washington DC.
func (c *Client) cityURL(city, state string) string {
	if city == "Washington" && state == "DC" {
		return c.baseURL + "/DC/Washington_D.C."
	}
	return c.baseURL + "/" + state + "/" + strings.ReplaceAll(city, " ", "_")
}

// fetchPage downloads and parses one city page, retrying transient failures.
func (c *Client) fetchPage(ctx context.Context, rawURL string) (*html.Node, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*html.Node, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "walkscore: rate limit")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "walkscore: build request")
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrap(err, "walkscore: request"), 0)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusOK {
			statusErr := eris.Errorf("walkscore: status %d from %s", resp.StatusCode, rawURL)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
			}
			return nil, statusErr
		}

		root, err := fetcher.ParseHTML(resp.Body, resp.Header.Get("Content-Type"))
		if err != nil {
			return nil, eris.Wrapf(err, "walkscore: parse page %s", rawURL)
		}
		return root, nil
	})
}

// parseTable extracts ranking rows from the hoods-list-table. A missing
// table means the site changed layout or served a block page; that is a
// per-city error, not a panic.
func parseTable(root *html.Node, city, state string) ([]model.WalkabilityRow, error) {
	table := fetcher.FindByID(root, tableID)
	if table == nil {
		return nil, eris.Errorf("walkscore: no %s table for %s, %s", tableID, city, state)
	}

	var rows []model.WalkabilityRow
	var short int
	for _, tr := range fetcher.FindAll(table, "tr") {
		cells := fetcher.FindAll(tr, "td")
		if len(cells) == 0 {
			// Header rows carry <th> cells only.
			continue
		}
		if len(cells) < 6 {
			short++
			continue
		}

		rows = append(rows, model.WalkabilityRow{
			CityRank:     fetcher.TextContent(cells[0]),
			Neighborhood: fetcher.TextContent(cells[1]),
			WalkScore:    fetcher.TextContent(cells[2]),
			TransitScore: fetcher.TextContent(cells[3]),
			BikeScore:    fetcher.TextContent(cells[4]),
			Population:   fetcher.TextContent(cells[5]),
			CityName:     city,
			StateID:      state,
		})
	}
	if short > 0 {
		zap.L().Debug("walkscore: skipped short table rows",
			zap.String("city", city),
			zap.Int("rows", short),
		)
	}
	return rows, nil
}
