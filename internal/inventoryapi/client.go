package inventoryapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/invhub/stocksync/internal/syncerr"
)

// Client talks to the external inventory API over HTTP Basic auth.
// The API paginates with limit/offset and signals exhaustion only through
// short final pages; list payloads arrive either as arrays of row objects
// or as column-parallel arrays, and the client normalizes both.
type Client struct {
	http *resty.Client
}

// Config holds connection settings for the inventory API.
type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// NewClient creates an inventory API client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	http := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetBasicAuth(cfg.APIKey, cfg.APISecret).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Client{http: http}
}

// FetchProducts returns one page of products.
func (c *Client) FetchProducts(ctx context.Context, offset, limit int) ([]ItemSnapshot, error) {
	rows, err := c.fetchRows(ctx, "/api/products", map[string]string{
		"limit":  strconv.Itoa(limit),
		"offset": strconv.Itoa(offset),
	})
	if err != nil {
		return nil, err
	}
	return rowsToSnapshots(rows), nil
}

// FetchProductsBySKUs returns snapshots for an explicit SKU set.
func (c *Client) FetchProductsBySKUs(ctx context.Context, skus []string) ([]ItemSnapshot, error) {
	if len(skus) == 0 {
		return nil, nil
	}

	rows, err := c.fetchRows(ctx, "/api/products", map[string]string{
		"sku": strings.Join(skus, ","),
	})
	if err != nil {
		return nil, err
	}
	return rowsToSnapshots(rows), nil
}

// FetchInventoryLevels returns one page of stock quantities.
func (c *Client) FetchInventoryLevels(ctx context.Context, offset, limit int) ([]InventoryLevel, error) {
	rows, err := c.fetchRows(ctx, "/api/inventory", map[string]string{
		"limit":  strconv.Itoa(limit),
		"offset": strconv.Itoa(offset),
	})
	if err != nil {
		return nil, err
	}

	levels := make([]InventoryLevel, 0, len(rows))
	for _, row := range rows {
		levels = append(levels, InventoryLevel{
			SKU:      pickString(row, "sku", "productId", "product_id"),
			Location: pickString(row, "location", "facility", "facilityName"),
			Quantity: pickFloat(row, "quantity", "quantityOnHand", "stock"),
		})
	}
	return levels, nil
}

// FetchVendors returns one page of suppliers.
func (c *Client) FetchVendors(ctx context.Context, offset, limit int) ([]VendorRecord, error) {
	rows, err := c.fetchRows(ctx, "/api/vendors", map[string]string{
		"limit":  strconv.Itoa(limit),
		"offset": strconv.Itoa(offset),
	})
	if err != nil {
		return nil, err
	}

	vendors := make([]VendorRecord, 0, len(rows))
	for _, row := range rows {
		vendors = append(vendors, VendorRecord{
			Code:     pickString(row, "code", "partyId", "vendorId"),
			Name:     pickString(row, "name", "vendorName"),
			Email:    pickString(row, "email"),
			Phone:    pickString(row, "phone"),
			LeadDays: int(pickFloat(row, "leadDays", "lead_days")),
			Active:   pickBool(row, "active", true),
		})
	}
	return vendors, nil
}

// fetchRows performs a GET and normalizes the payload into row maps.
func (c *Client) fetchRows(ctx context.Context, path string, params map[string]string) ([]map[string]interface{}, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(path)
	if err != nil {
		return nil, &syncerr.TransientNetworkError{Op: "GET " + path, Err: err}
	}

	if resp.StatusCode() == http.StatusTooManyRequests {
		return nil, &syncerr.RateLimitError{
			Message:    fmt.Sprintf("GET %s: upstream returned 429", path),
			RetryAfter: parseRetryAfter(resp.Header().Get("Retry-After")),
		}
	}
	if resp.StatusCode() >= 500 {
		return nil, &syncerr.TransientNetworkError{
			Op:  "GET " + path,
			Err: fmt.Errorf("upstream status %d", resp.StatusCode()),
		}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("GET %s: unexpected status %d: %s", path, resp.StatusCode(), resp.String())
	}

	return normalizeRows(resp.Body())
}

// normalizeRows accepts the API's two list shapes: an array of row objects
// (optionally wrapped in an "items"/"data" envelope), or an object of
// column-parallel arrays that gets zipped into rows.
func normalizeRows(body []byte) ([]map[string]interface{}, error) {
	var asArray []map[string]interface{}
	if err := json.Unmarshal(body, &asArray); err == nil {
		return asArray, nil
	}

	var asObject map[string]json.RawMessage
	if err := json.Unmarshal(body, &asObject); err != nil {
		return nil, &syncerr.ValidationError{Reason: fmt.Sprintf("unrecognized payload: %v", err)}
	}

	// Envelope form
	for _, key := range []string{"items", "data", "results"} {
		if raw, ok := asObject[key]; ok {
			var rows []map[string]interface{}
			if err := json.Unmarshal(raw, &rows); err == nil {
				return rows, nil
			}
		}
	}

	// Column-parallel form: every value must be an array; row i is the
	// i-th element of each column.
	columns := make(map[string][]interface{}, len(asObject))
	rowCount := -1
	for key, raw := range asObject {
		var col []interface{}
		if err := json.Unmarshal(raw, &col); err != nil {
			return nil, &syncerr.ValidationError{Reason: fmt.Sprintf("field %q is neither column nor envelope", key)}
		}
		columns[key] = col
		if rowCount == -1 || len(col) < rowCount {
			rowCount = len(col)
		}
	}
	if rowCount <= 0 {
		return nil, nil
	}

	rows := make([]map[string]interface{}, rowCount)
	for i := 0; i < rowCount; i++ {
		row := make(map[string]interface{}, len(columns))
		for key, col := range columns {
			row[key] = col[i]
		}
		rows[i] = row
	}
	return rows, nil
}

func rowsToSnapshots(rows []map[string]interface{}) []ItemSnapshot {
	snaps := make([]ItemSnapshot, 0, len(rows))
	for _, row := range rows {
		snaps = append(snaps, ItemSnapshot{
			SKU:          pickString(row, "sku", "productId", "product_id"),
			Name:         pickString(row, "name", "internalName", "description"),
			Stock:        pickFloat(row, "stock", "quantityOnHand", "quantity"),
			Cost:         pickFloat(row, "cost", "unitCost", "averageCost"),
			ReorderPoint: pickFloat(row, "reorderPoint", "reorder_point", "reorderLevel"),
			Vendor:       pickString(row, "vendor", "supplier", "primarySupplier"),
			Location:     pickString(row, "location", "facility", "facilityName"),
			Discontinued: isDiscontinued(row),
			LastModified: pickTime(row, "lastModified", "lastUpdatedDate", "last_updated"),
		})
	}
	return snaps
}

func isDiscontinued(row map[string]interface{}) bool {
	if pickBool(row, "discontinued", false) {
		return true
	}
	status := strings.ToLower(pickString(row, "status", "statusId"))
	return status == "discontinued" || status == "inactive" || strings.Contains(status, "_inactive")
}

// pickString returns the first present key as a string.
func pickString(row map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := row[key]; ok && v != nil {
			switch s := v.(type) {
			case string:
				return s
			case float64:
				return strconv.FormatFloat(s, 'f', -1, 64)
			}
		}
	}
	return ""
}

// pickFloat returns the first present key as a float64. Malformed or missing
// numeric fields default to 0 so a bad record cannot abort a fetch.
func pickFloat(row map[string]interface{}, keys ...string) float64 {
	for _, key := range keys {
		v, ok := row[key]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n
		case string:
			if parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return parsed
			}
		}
	}
	return 0
}

func pickBool(row map[string]interface{}, key string, fallback bool) bool {
	v, ok := row[key]
	if !ok || v == nil {
		return fallback
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true" || b == "1" || b == "yes"
	}
	return fallback
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func pickTime(row map[string]interface{}, keys ...string) time.Time {
	for _, key := range keys {
		s, ok := row[key].(string)
		if !ok || s == "" {
			continue
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}
