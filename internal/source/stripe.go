package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"order-etl/internal/models"
	"order-etl/internal/table"
	"order-etl/internal/util"

	"go.uber.org/zap"
)

const (
	apiKeyHeader   = "x-api-key"
	userAgent      = "order-etl/1.0"
	maxErrorDetail = 512
)

// StripeReader fetches order records from the Stripe-side records API
type StripeReader struct {
	url    string
	apiKey string
	client *http.Client
	diag   util.Diagnostics
}

// NewStripeReader creates a reader. A zero timeout leaves requests bounded
// only by the caller's context.
func NewStripeReader(url, apiKey string, timeout time.Duration, diag util.Diagnostics) *StripeReader {
	return &StripeReader{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
		diag:   diag,
	}
}

// WithHTTPClient replaces the HTTP client
func (r *StripeReader) WithHTTPClient(client *http.Client) *StripeReader {
	r.client = client
	return r
}

// Name returns the source system this reader stamps
func (r *StripeReader) Name() models.SourceSystem {
	return models.SourceStripe
}

// Extract issues the GET and turns the JSON array body into a table. Values
// keep their JSON types; harmonization happens in the cleaner.
func (r *StripeReader) Extract(ctx context.Context) (*table.Table, error) {
	ctx, span := util.StartSpan(ctx, "StripeReader.Extract")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", models.ErrSourceUnavailable, err)
	}
	req.Header.Set(apiKeyHeader, r.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", models.ErrSourceUnavailable, r.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorDetail))
		return nil, fmt.Errorf("%w: GET %s returned %s: %s",
			models.ErrSourceUnavailable, r.url, resp.Status, strings.TrimSpace(string(detail)))
	}

	tbl, err := decodeRecords(resp.Body)
	if err != nil {
		return nil, err
	}

	r.diag.Info("Successfully retrieved records from Stripe API",
		zap.String("url", r.url),
		zap.Int("records", tbl.Len()))
	return tbl, nil
}

// decodeRecords reads a JSON array of objects. Keys become columns in
// first-seen order.
func decodeRecords(body io.Reader) (*table.Table, error) {
	dec := json.NewDecoder(body)

	tok, err := dec.Token()
	if err != nil {
		return nil, bodyError(err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, fmt.Errorf("%w: response body is not a JSON array", models.ErrFormat)
	}

	tbl := table.New()
	for index := 0; dec.More(); index++ {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, bodyError(err)
		}
		fields, err := decodeObject(raw)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", index, err)
		}
		tbl.AppendFields(fields...)
	}

	if _, err := dec.Token(); err != nil {
		return nil, bodyError(err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after JSON array", models.ErrFormat)
	}
	return tbl, nil
}

func decodeObject(raw json.RawMessage) ([]table.Field, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, bodyError(err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("%w: array element is not a JSON object", models.ErrFormat)
	}

	var fields []table.Field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, bodyError(err)
		}
		key, _ := tok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, bodyError(err)
		}
		v, err := jsonValue(value)
		if err != nil {
			return nil, err
		}
		fields = append(fields, table.Field{Name: key, Value: v})
	}
	return fields, nil
}

// jsonValue maps a JSON scalar onto a cell. Nested objects and arrays are
// kept as their compact JSON text.
func jsonValue(raw json.RawMessage) (table.Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return table.Absent(), nil
	}

	switch raw[0] {
	case 'n':
		return table.Absent(), nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return table.Value{}, bodyError(err)
		}
		return table.Bool(b), nil
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return table.Value{}, bodyError(err)
		}
		return table.String(s), nil
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return table.Value{}, bodyError(err)
		}
		return table.String(buf.String()), nil
	default:
		text := string(raw)
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return table.Int(n), nil
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return table.Value{}, fmt.Errorf("%w: invalid JSON number %q", models.ErrFormat, text)
		}
		return table.Float(f), nil
	}
}

// bodyError classifies body read failures. Broken connections mid-body make
// the source unavailable; everything else is malformed JSON.
func bodyError(err error) error {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr),
		errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: invalid JSON body: %v", models.ErrFormat, err)
	default:
		return fmt.Errorf("%w: read body: %w", models.ErrSourceUnavailable, err)
	}
}
