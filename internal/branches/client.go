package branches

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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/appraisal-booking/internal/availability"
	"github.com/wolfman30/appraisal-booking/internal/retry"
	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

var tracer = otel.Tracer("appraisal.internal.branches")

const defaultTimeout = 10 * time.Second

// Client reads the branch directory over HTTP. Retries are left to the
// caller; failures worth retrying are marked with retry.Transient.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *logging.Logger
}

func NewClient(baseURL, apiKey string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		logger:     logger,
	}
}

var _ availability.Directory = (*Client)(nil)

// ListAvailability returns the branches serving zip with their hours and
// per-date slot feed. An unknown zip is an empty listing, not an error.
func (c *Client) ListAvailability(ctx context.Context, zip, vehicleID string, from time.Time, days int) (availability.Listing, error) {
	ctx, span := tracer.Start(ctx, "branches.list_availability")
	defer span.End()
	span.SetAttributes(attribute.String("appraisal.zip", zip), attribute.Int("appraisal.days", days))

	q := url.Values{}
	q.Set("zip", zip)
	if vehicleID != "" {
		q.Set("vehicle_id", vehicleID)
	}
	q.Set("from", from.Format(availability.DateLayout))
	q.Set("days", strconv.Itoa(days))

	var resp listingResponse
	err := c.doJSON(ctx, http.MethodGet, "/v1/availability?"+q.Encode(), &resp)
	if errors.Is(err, errNotFound) {
		return availability.Listing{}, nil
	}
	if err != nil {
		span.RecordError(err)
		return availability.Listing{}, fmt.Errorf("branches: list availability: %w", err)
	}
	listing, err := resp.toListing()
	if err != nil {
		span.RecordError(err)
		return availability.Listing{}, fmt.Errorf("branches: decode listing: %w", err)
	}
	return listing, nil
}

var errNotFound = errors.New("branches: not found")

func (c *Client) doJSON(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return retry.Transient(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return retry.Transient(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(respBody)
		if len(msg) > 300 {
			msg = msg[:300]
		}
		c.logger.Warn("branch directory non-2xx response", "status", resp.StatusCode, "path", path, "body", msg)
		err := fmt.Errorf("branch directory returned %d: %s", resp.StatusCode, msg)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return retry.Transient(err)
		}
		return err
	}

	if len(respBody) == 0 || out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
