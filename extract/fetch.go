package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/config"
	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/model"
	"github.com/hashicorp/go-retryablehttp"
)

type YahooClient struct {
	HTTPClient     *retryablehttp.Client
	Logger         *slog.Logger
	ProviderConfig *config.ProviderConfig
	BaseURL        string
}

func NewYahooClient(config *config.Config, logger *slog.Logger) *YahooClient {
	client := &YahooClient{
		HTTPClient:     retryablehttp.NewClient(),
		Logger:         logger,
		ProviderConfig: &config.Provider,
		BaseURL:        config.Provider.BaseURL,
	}

	client.HTTPClient.RetryWaitMin = config.Extract.Backoff.RetryWaitMin
	client.HTTPClient.RetryWaitMax = config.Extract.Backoff.RetryWaitMax
	client.HTTPClient.RetryMax = config.Extract.Backoff.RetryMax
	client.HTTPClient.HTTPClient.Timeout = config.Provider.Timeout
	client.HTTPClient.Logger = logger

	return client
}

// GetChart fetches the raw chart JSON for a symbol, including dividend and split events.
// https://query1.finance.yahoo.com/v8/finance/chart/{symbol}
func (c *YahooClient) GetChart(ctx context.Context, symbol string) ([]byte, error) {
	chartURL, err := c.chartURL(symbol)
	if err != nil {
		return nil, err
	}
	return c.FetchData(ctx, chartURL, fmt.Sprintf("chart for symbol %s", symbol))
}

// GetLastTradingDay fetches the most recent trading day's prices for a symbol.
// The returned records are not tagged with the symbol.
func (c *YahooClient) GetLastTradingDay(ctx context.Context, symbol string) ([]model.PriceRecord, error) {
	body, err := c.GetChart(ctx, symbol)
	if err != nil {
		return nil, err
	}

	records, err := ParseChart(body)
	if err != nil {
		return nil, fmt.Errorf("error parsing chart for symbol %s: %w", symbol, err)
	}

	c.Logger.Debug("Fetched chart", "symbol", symbol, "rows", len(records))
	return records, nil
}

// FetchData handles the common logic of making the HTTP request and checking the response status
func (c *YahooClient) FetchData(ctx context.Context, url, description string) ([]byte, error) {
	body, resp, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch the `%s`, status: %s, body: %s", description, resp.Status, string(body))
	}

	return body, nil
}

// chartURL builds the chart endpoint URL with range, interval and events
func (c *YahooClient) chartURL(symbol string) (string, error) {
	if symbol == "" {
		return "", fmt.Errorf("symbol is required")
	}

	parsedURL, err := url.Parse(c.BaseURL + "/v8/finance/chart/" + url.PathEscape(symbol))
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}

	query := parsedURL.Query()
	query.Set("range", c.ProviderConfig.Range)
	query.Set("interval", c.ProviderConfig.Interval)
	query.Set("events", "div|split")
	parsedURL.RawQuery = query.Encode()

	return parsedURL.String(), nil
}

// get fetches the URL and returns the body and response
func (c *YahooClient) get(ctx context.Context, url string) (body []byte, resp *http.Response, err error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, err
	}
	if c.ProviderConfig.UserAgent != "" {
		req.Header.Set("User-Agent", c.ProviderConfig.UserAgent)
	}

	resp, err = c.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}

	return body, resp, nil
}
