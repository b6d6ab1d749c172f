package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"ingest/internal/etl"
)

// ── HTTP Source ─────────────────────────────────────────────
// Fetches root records from a REST API endpoint, following either
// token pagination (next token in a response header) or page-number
// pagination. Incremental jobs get the window as two query parameters, or
// only its start for "since" endpoints. Header, param and record-field
// values may reference other settings as ${key}, so one preset can serve
// any tenant a job names.

const (
	defaultTokenHeader = "Toast-Next-Page-Token"
	defaultTokenParam  = "pageToken"
	defaultPageParam   = "page"
	defaultSizeParam   = "pageSize"
	defaultStartParam  = "startDate"
	defaultEndParam    = "endDate"
	defaultTimeout     = 30 * time.Second

	windowRange = "range"
	windowSince = "since"
	windowNone  = "none"
)

type httpSource struct{}

func init() { etl.RegisterSource(&httpSource{}) }

func (s *httpSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:        "http",
		Label:       "HTTP API",
		Incremental: true,
		ConfigFields: []etl.ConfigField{
			{Key: "url", Label: "URL", Type: "string", Required: true, Help: "Full URL to fetch"},
			{Key: "method", Label: "Method", Type: "select", Options: []string{"GET", "POST"}, Default: "GET"},
			{Key: "headers", Label: "Headers", Type: "textarea", Help: "JSON object of headers"},
			{Key: "params", Label: "Query Params", Type: "textarea", Help: "JSON object of static query parameters"},
			{Key: "body", Label: "Body", Type: "textarea", Help: "Request body (for POST)"},
			{Key: "token", Label: "Bearer Token", Type: "secret", Help: "Sent as Authorization: Bearer <token>"},
			{Key: "dataPath", Label: "Data Path", Type: "string", Help: "Dot-separated path to the array in the response (e.g., 'data.items')"},
			{Key: "pagination", Label: "Pagination", Type: "select", Options: []string{"none", "token", "page"}, Default: "none"},
			{Key: "pageSize", Label: "Page Size", Type: "number", Default: "100"},
			{Key: "pageTokenHeader", Label: "Next Token Header", Type: "string", Default: defaultTokenHeader},
			{Key: "pageTokenParam", Label: "Token Param", Type: "string", Default: defaultTokenParam},
			{Key: "windowStartParam", Label: "Window Start Param", Type: "string", Default: defaultStartParam},
			{Key: "windowEndParam", Label: "Window End Param", Type: "string", Default: defaultEndParam},
			{Key: "window", Label: "Window", Type: "select", Options: []string{windowRange, windowSince, windowNone}, Default: windowRange,
				Help: "range sends start and end, since only the start, none ignores the window"},
			{Key: "recordFields", Label: "Record Fields", Type: "textarea", Help: "JSON object of fields set on every fetched record"},
			{Key: "maxPages", Label: "Max Pages", Type: "number", Help: "Stop after this many pages (0 = no limit)"},
		},
	}
}

func (s *httpSource) Read(ctx context.Context, cfg etl.SourceConfig, win *etl.Window) (<-chan etl.Page, <-chan error) {
	out := make(chan etl.Page, 4)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		req, err := newHTTPRequest(cfg, win)
		if err != nil {
			errCh <- err
			return
		}
		if err := req.each(ctx, func(p etl.Page) bool {
			select {
			case out <- p:
				return true
			case <-ctx.Done():
				return false
			}
		}); err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

// httpRequest is a parsed source config.
type httpRequest struct {
	client      *resty.Client
	url         string
	method      string
	body        string
	headers     map[string]string
	params      map[string]string
	fields      map[string]string
	dataPath    string
	pagination  string
	pageSize    int
	maxPages    int
	tokenHeader string
	tokenParam  string
}

func newHTTPRequest(cfg etl.SourceConfig, win *etl.Window) (*httpRequest, error) {
	r := &httpRequest{
		url:         cfg.String("url"),
		method:      strings.ToUpper(cfg.String("method")),
		body:        cfg.String("body"),
		dataPath:    cfg.String("dataPath"),
		pagination:  cfg.String("pagination"),
		pageSize:    cfg.Int("pageSize", 100),
		maxPages:    cfg.Int("maxPages", 0),
		tokenHeader: orDefault(cfg.String("pageTokenHeader"), defaultTokenHeader),
		tokenParam:  orDefault(cfg.String("pageTokenParam"), defaultTokenParam),
	}
	if r.url == "" {
		return nil, fmt.Errorf("url is required")
	}
	if r.method == "" {
		r.method = "GET"
	}

	var err error
	if r.headers, err = stringMap(cfg["headers"]); err != nil {
		return nil, fmt.Errorf("headers: %w", err)
	}
	if r.params, err = stringMap(cfg["params"]); err != nil {
		return nil, fmt.Errorf("params: %w", err)
	}
	if r.fields, err = stringMap(cfg["recordFields"]); err != nil {
		return nil, fmt.Errorf("recordFields: %w", err)
	}
	for _, m := range []map[string]string{r.headers, r.params, r.fields} {
		expandAll(m, cfg)
	}

	if win != nil {
		switch mode := orDefault(cfg.String("window"), windowRange); mode {
		case windowRange:
			r.params[orDefault(cfg.String("windowEndParam"), defaultEndParam)] = etl.FormatTime(win.To)
			fallthrough
		case windowSince:
			r.params[orDefault(cfg.String("windowStartParam"), defaultStartParam)] = etl.FormatTime(win.From)
		case windowNone:
		default:
			return nil, fmt.Errorf("unknown window mode %q", mode)
		}
	}

	timeout := defaultTimeout
	if t := cfg.Int("timeoutSeconds", 0); t > 0 {
		timeout = time.Duration(t) * time.Second
	}
	r.client = resty.New().SetTimeout(timeout)
	if token := cfg.String("token"); token != "" {
		r.client.SetAuthToken(token)
	}
	return r, nil
}

// each fetches pages until the source is exhausted or emit returns false.
func (r *httpRequest) each(ctx context.Context, emit func(etl.Page) bool) error {
	params := make(map[string]string, len(r.params)+2)
	for k, v := range r.params {
		params[k] = v
	}
	page := 1
	if r.pagination == "page" {
		params[defaultPageParam] = strconv.Itoa(page)
		params[defaultSizeParam] = strconv.Itoa(r.pageSize)
	}

	for fetched := 1; ; fetched++ {
		records, next, err := r.fetch(ctx, params)
		if err != nil {
			return err
		}
		cursor := ""
		switch r.pagination {
		case "token":
			cursor = next
		case "page":
			if len(records) >= r.pageSize {
				cursor = strconv.Itoa(page + 1)
			}
		}
		if r.maxPages > 0 && fetched >= r.maxPages {
			cursor = ""
		}
		if len(records) > 0 && !emit(etl.Page{Records: records, Cursor: cursor}) {
			return ctx.Err()
		}
		if cursor == "" {
			return nil
		}

		if r.pagination == "token" {
			params[r.tokenParam] = cursor
		} else {
			page++
			params[defaultPageParam] = cursor
		}
	}
}

func (r *httpRequest) fetch(ctx context.Context, params map[string]string) ([]etl.Record, string, error) {
	req := r.client.R().
		SetContext(ctx).
		SetHeaders(r.headers).
		SetHeader("Accept", "application/json").
		SetQueryParams(params)
	if r.body != "" {
		req.SetBody(r.body)
	}

	res, err := req.Execute(r.method, r.url)
	if err != nil {
		return nil, "", fmt.Errorf("http request: %w", err)
	}
	if res.IsError() {
		body := res.Body()
		if len(body) > 1024 {
			body = body[:1024]
		}
		return nil, "", fmt.Errorf("http %d: %s", res.StatusCode(), string(body))
	}

	records, err := decodePayload(res.Body(), r.dataPath)
	if err != nil {
		return nil, "", err
	}
	for _, rec := range records {
		for k, v := range r.fields {
			rec.Data[k] = v
		}
	}
	log.Printf("[HTTP] %s %s: %d records", r.method, r.url, len(records))
	return records, res.Header().Get(r.tokenHeader), nil
}

// stringMap accepts a JSON object given either as text or as a decoded map.
func stringMap(v any) (map[string]string, error) {
	out := map[string]string{}
	switch m := v.(type) {
	case nil:
		return out, nil
	case string:
		if m == "" {
			return out, nil
		}
		if err := json.Unmarshal([]byte(m), &out); err != nil {
			return nil, err
		}
		return out, nil
	case map[string]string:
		for k, s := range m {
			out[k] = s
		}
		return out, nil
	case map[string]any:
		for k, s := range m {
			out[k] = fmt.Sprint(s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected object, got %T", v)
	}
}

// expandAll replaces ${key} references in the values of m with string
// settings from cfg. Entries that expand to nothing are dropped, so an
// unset tenant does not send an empty header.
func expandAll(m map[string]string, cfg etl.SourceConfig) {
	for k, v := range m {
		if !strings.Contains(v, "${") {
			continue
		}
		if v = os.Expand(v, cfg.String); v == "" {
			delete(m, k)
			continue
		}
		m[k] = v
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
