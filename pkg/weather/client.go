package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/forestcarbon-backend/pkg/errors"
)

const (
	dateLayout                  = "2006-01-02"
	responseBodyReadLimit int64 = 1024
)

var (
	errBaseURLRequired = errors.New("weather base url is required")
)

// Client fetches rainfall, temperature and soil readings for a coordinate.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout sets the timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// NewClient builds a weather client. The API key is optional for providers
// that do not require one.
func NewClient(baseURL, apiKey string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, errBaseURLRequired
	}
	client := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Reading is an aggregated measurement over a period. Any field may be nil
// when the provider has no data for it.
type Reading struct {
	RainfallMM   *decimal.Decimal
	TemperatureC *decimal.Decimal
	SoilPH       *decimal.Decimal
	PeriodStart  time.Time
	PeriodEnd    time.Time
}

type apiReading struct {
	RainfallMM   *decimal.Decimal `json:"rainfall_mm"`
	TemperatureC *decimal.Decimal `json:"temperature_c"`
	SoilPH       *decimal.Decimal `json:"soil_ph"`
}

// Fetch returns the aggregated reading for the coordinate between from and to.
func (c *Client) Fetch(ctx context.Context, lat, lng float64, from, to time.Time) (*Reading, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "weather client not configured")
	}
	if !to.After(from) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "period end must be after start")
	}

	query := url.Values{}
	query.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	query.Set("lng", strconv.FormatFloat(lng, 'f', 6, 64))
	query.Set("from", from.UTC().Format(dateLayout))
	query.Set("to", to.UTC().Format(dateLayout))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/readings?"+query.Encode(), nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build weather request")
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute weather request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "weather request failed")
	}

	var payload apiReading
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode weather response")
	}
	return &Reading{
		RainfallMM:   payload.RainfallMM,
		TemperatureC: payload.TemperatureC,
		SoilPH:       payload.SoilPH,
		PeriodStart:  from.UTC(),
		PeriodEnd:    to.UTC(),
	}, nil
}
