package rustdesk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Smok3y97/Rustdesk-Server-Pro-Device-Cleaner/internal/directory"
	"github.com/Smok3y97/Rustdesk-Server-Pro-Device-Cleaner/internal/models"
)

// Config holds the connection settings for a RustDesk Server Pro instance.
type Config struct {
	BaseURL    string        // e.g. "https://rustdesk.example.com", trailing slashes trimmed
	Token      string        // bearer token for the web console API
	PageSize   int           // devices per listing page (default 100)
	Timeout    time.Duration // total per-call timeout (default 30s)
	MaxRetries int           // attempts per call for transient failures (default 3)
	RetryBase  time.Duration // first backoff delay, doubled per attempt (default 500ms)

	// ConnectTimeout bounds TCP connection establishment separately from
	// Timeout, so an unreachable server fails fast rather than consuming
	// the whole per-call budget (default 10s).
	ConnectTimeout time.Duration
}

// Client implements the directory.Directory interface against the RustDesk
// Server Pro HTTP API.
type Client struct {
	cfg    Config
	client *http.Client
}

// New creates a RustDesk directory client. Zero-valued config fields fall
// back to defaults.
func New(cfg Config) *Client {
	for strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
				TLSHandshakeTimeout: cfg.ConnectTimeout,
			},
		},
	}
}

// ── Listing ─────────────────────────────────────────────────────────────

// deviceListResponse is the JSON shape returned by GET /api/devices.
type deviceListResponse struct {
	Total int          `json:"total"`
	Data  []wireDevice `json:"data"`
	Error string       `json:"error"`
}

type wireDevice struct {
	ID         string `json:"id"`
	GUID       string `json:"guid"`
	DeviceName string `json:"device_name"`
	UserName   string `json:"user_name"`
	GroupName  string `json:"group_name"`
	DeviceGrp  string `json:"device_group_name"`
	LastOnline string `json:"last_online"`
	Status     string `json:"status"`
	Disabled   bool   `json:"disabled"`
}

// ListDevices fetches one page of devices. The cursor is the page number the
// server calls "current"; empty means the first page. An empty returned
// cursor means the listing is exhausted.
func (c *Client) ListDevices(ctx context.Context, filter models.SearchFilter, cursor string) ([]models.Device, string, error) {
	current := 1
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, "", &directory.PermanentError{Op: "list", Detail: fmt.Sprintf("bad cursor %q", cursor)}
		}
		current = n
	}

	params := url.Values{}
	params.Set("current", strconv.Itoa(current))
	params.Set("pageSize", strconv.Itoa(c.cfg.PageSize))
	addSearchParam(params, "id", filter.ID)
	addSearchParam(params, "device_name", filter.DeviceName)
	addSearchParam(params, "user_name", filter.UserName)
	addSearchParam(params, "group_name", filter.GroupName)
	addSearchParam(params, "device_group_name", filter.DeviceGroupName)

	body, err := c.do(ctx, "list", http.MethodGet, "/api/devices?"+params.Encode(), nil)
	if err != nil {
		return nil, "", err
	}

	var resp deviceListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", &directory.PermanentError{Op: "list", Detail: fmt.Sprintf("parse device list: %v", err)}
	}
	if resp.Error != "" {
		return nil, "", &directory.PermanentError{Op: "list", Detail: resp.Error}
	}

	devices := make([]models.Device, 0, len(resp.Data))
	for _, wd := range resp.Data {
		devices = append(devices, wd.toDevice())
	}

	next := ""
	if len(resp.Data) == c.cfg.PageSize && current*c.cfg.PageSize < resp.Total {
		next = strconv.Itoa(current + 1)
	}

	log.Printf("[rustdesk] listed page %d: %d devices, has_next=%v", current, len(devices), next != "")
	return devices, next, nil
}

// GetDevice fetches a single device by its exact ID, following pagination of
// the server-side search until an exact match is found. Returns nil when the
// server no longer knows the device.
func (c *Client) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	cursor := ""
	for {
		devices, next, err := c.ListDevices(ctx, models.SearchFilter{ID: id}, cursor)
		if err != nil {
			return nil, err
		}
		for _, d := range devices {
			if d.ID == id {
				dev := d
				return &dev, nil
			}
		}
		if next == "" {
			return nil, nil
		}
		cursor = next
	}
}

func (wd wireDevice) toDevice() models.Device {
	d := models.Device{
		ID:         wd.ID,
		GUID:       wd.GUID,
		DeviceName: wd.DeviceName,
		UserName:   wd.UserName,
		GroupName:  wd.GroupName,
		Group:      wd.DeviceGrp,
		Status:     wd.Status,
	}
	if d.Status == "" {
		if wd.Disabled {
			d.Status = models.StatusDisabled
		} else {
			d.Status = models.StatusActive
		}
	}
	if t, ok := parseLastOnline(wd.LastOnline); ok {
		d.LastOnline = &t
	}
	return d
}

// parseLastOnline handles the server's timestamp format, which carries
// fractional seconds of varying precision and sometimes no zone suffix.
func parseLastOnline(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	// Truncate the fraction and parse the bare form.
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// addSearchParam sets a server-side search parameter, wrapping the value in
// SQL-style % wildcards unless it is already wildcarded or the literal "-".
func addSearchParam(params url.Values, key, value string) {
	if value == "" {
		return
	}
	if value != "-" && !strings.Contains(value, "%") {
		value = "%" + value + "%"
	}
	params.Set(key, value)
}

// ── Mutations ───────────────────────────────────────────────────────────

// Disable disables a device by GUID. An already-disabled device is reported
// via the Ack, not as an error.
func (c *Client) Disable(ctx context.Context, guid string) (directory.Ack, error) {
	return c.mutate(ctx, "disable", http.MethodPost, "/api/devices/"+guid+"/disable", nil)
}

// Enable re-enables a device by GUID.
func (c *Client) Enable(ctx context.Context, guid string) (directory.Ack, error) {
	return c.mutate(ctx, "enable", http.MethodPost, "/api/devices/"+guid+"/enable", nil)
}

// Delete removes a device by GUID. The server rejects the call for devices
// that are not disabled; that rejection surfaces as *PreconditionError.
func (c *Client) Delete(ctx context.Context, guid string) (directory.Ack, error) {
	ack, err := c.mutate(ctx, "delete", http.MethodDelete, "/api/devices/"+guid, nil)
	if err != nil {
		var pe *directory.PermanentError
		if asPermanent(err, &pe) && isPreconditionDetail(pe.Status, pe.Detail) {
			return directory.Ack{}, &directory.PreconditionError{GUID: guid, Detail: pe.Detail}
		}
		return directory.Ack{}, err
	}
	return ack, nil
}

// assignTypes are the attribute names the server accepts for assignment.
var assignTypes = map[string]bool{
	"ab":                true,
	"strategy_name":     true,
	"user_name":         true,
	"device_group_name": true,
	"note":              true,
	"device_username":   true,
	"device_name":       true,
}

// Assign sets an attribute on a device by GUID.
func (c *Client) Assign(ctx context.Context, guid, attrType, value string) error {
	if !assignTypes[attrType] {
		return &directory.PermanentError{Op: "assign", Detail: fmt.Sprintf("invalid assign type %q", attrType)}
	}
	payload, err := json.Marshal(map[string]string{"type": attrType, "value": value})
	if err != nil {
		return fmt.Errorf("assign: encode payload: %w", err)
	}
	_, err = c.mutate(ctx, "assign", http.MethodPost, "/api/devices/"+guid+"/assign", payload)
	return err
}

// mutate issues a state-changing call and folds the server's "already done"
// responses into the Ack.
func (c *Client) mutate(ctx context.Context, op, method, path string, payload []byte) (directory.Ack, error) {
	body, err := c.do(ctx, op, method, path, payload)
	if err != nil {
		var pe *directory.PermanentError
		if asPermanent(err, &pe) && isAlreadyDetail(pe.Detail) {
			return directory.Ack{Already: true}, nil
		}
		return directory.Ack{}, err
	}

	// A 200 with an error field in the body is how the console API reports
	// application-level rejections.
	var resp struct {
		Error string `json:"error"`
	}
	if len(body) > 0 && json.Unmarshal(body, &resp) == nil && resp.Error != "" {
		if isAlreadyDetail(resp.Error) {
			return directory.Ack{Already: true}, nil
		}
		if op == "delete" && isPreconditionDetail(0, resp.Error) {
			return directory.Ack{}, &directory.PreconditionError{Detail: resp.Error}
		}
		return directory.Ack{}, &directory.PermanentError{Op: op, Detail: resp.Error}
	}
	return directory.Ack{}, nil
}

func asPermanent(err error, target **directory.PermanentError) bool {
	pe, ok := err.(*directory.PermanentError)
	if ok {
		*target = pe
	}
	return ok
}

func isAlreadyDetail(detail string) bool {
	d := strings.ToLower(detail)
	return strings.Contains(d, "already")
}

func isPreconditionDetail(status int, detail string) bool {
	if status == http.StatusConflict || status == http.StatusPreconditionFailed {
		return true
	}
	d := strings.ToLower(detail)
	return strings.Contains(d, "disable") && !strings.Contains(d, "already")
}

// ── HTTP plumbing ───────────────────────────────────────────────────────

// do issues one API call with bearer auth, retrying transient failures with
// exponential backoff up to MaxRetries attempts. 4xx responses are returned
// as *PermanentError without retry; exhausted retries surface the last
// failure as *TransientError.
func (c *Client) do(ctx context.Context, op, method, path string, payload []byte) ([]byte, error) {
	var lastErr *directory.TransientError

	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			delay := c.cfg.RetryBase << (attempt - 2)
			log.Printf("[rustdesk] %s: transient failure, retrying in %s (attempt %d/%d)", op, delay, attempt, c.cfg.MaxRetries)
			select {
			case <-ctx.Done():
				return nil, &directory.TransientError{Op: op, Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		body, err := c.doOnce(ctx, op, method, path, payload)
		if err == nil {
			return body, nil
		}
		te, ok := err.(*directory.TransientError)
		if !ok {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, te
		}
		lastErr = te
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, op, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, &directory.PermanentError{Op: op, Detail: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &directory.TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &directory.TransientError{Op: op, Err: err}
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &directory.TransientError{
			Op:     op,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%s", truncate(string(body), 500)),
		}
	case resp.StatusCode >= 300:
		return nil, &directory.PermanentError{
			Op:     op,
			Status: resp.StatusCode,
			Detail: truncate(string(body), 500),
		}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
