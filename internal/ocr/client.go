// Package ocr calls the external receipt text-extraction HTTP API and
// maps its verbose response into the ingest result shape. The service is
// treated as untrusted input: missing or malformed fields degrade to
// defaults downstream instead of failing the upload.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"tidytab/internal/core"
	"tidytab/internal/ingest"
)

const defaultTimeout = 30 * time.Second

type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
}

func NewClient(endpoint, apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		endpoint:   endpoint,
		apiKey:     apiKey,
	}
}

// verboseResponse mirrors the provider's verbose payload: every extracted
// field is wrapped in an object carrying the value under "data" plus a
// confidence score we do not use.
type verboseResponse struct {
	MerchantName    stringField `json:"merchantName"`
	MerchantAddress stringField `json:"merchantAddress"`
	TotalAmount     floatField  `json:"totalAmount"`
	LineItems       []struct {
		Description stringField `json:"description"`
		Quantity    floatField  `json:"quantity"`
		UnitPrice   floatField  `json:"unitPrice"`
		TotalPrice  floatField  `json:"totalPrice"`
	} `json:"lineItems"`
}

type stringField struct {
	Data string `json:"data"`
}

type floatField struct {
	Data float64 `json:"data"`
}

// ProcessReceipt uploads one receipt image and returns the parsed result
// in cents. Only transport and decoding problems are errors; an empty or
// partial extraction is a valid result.
func (c *Client) ProcessReceipt(ctx context.Context, filename string, file io.Reader) (ingest.OCRResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return ingest.OCRResult{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return ingest.OCRResult{}, fmt.Errorf("copy receipt data: %w", err)
	}
	if err := mw.WriteField("extractLineItems", "true"); err != nil {
		return ingest.OCRResult{}, fmt.Errorf("write form field: %w", err)
	}
	if err := mw.WriteField("ocr", "true"); err != nil {
		return ingest.OCRResult{}, fmt.Errorf("write form field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return ingest.OCRResult{}, fmt.Errorf("finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return ingest.OCRResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ingest.OCRResult{}, fmt.Errorf("call ocr service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ingest.OCRResult{}, fmt.Errorf("ocr service returned %d: %s", resp.StatusCode, payload)
	}

	var parsed verboseResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ingest.OCRResult{}, fmt.Errorf("decode ocr response: %w", err)
	}

	result := ingest.OCRResult{
		MerchantName:    parsed.MerchantName.Data,
		MerchantAddress: parsed.MerchantAddress.Data,
		TotalCents:      core.CentsFromFloat(parsed.TotalAmount.Data),
	}
	for _, li := range parsed.LineItems {
		result.LineItems = append(result.LineItems, ingest.OCRLineItem{
			Name:       li.Description.Data,
			Quantity:   int64(li.Quantity.Data),
			UnitCents:  core.CentsFromFloat(li.UnitPrice.Data),
			TotalCents: core.CentsFromFloat(li.TotalPrice.Data),
		})
	}

	slog.InfoContext(ctx, "Receipt processed",
		"merchant", result.MerchantName,
		"total_cents", result.TotalCents,
		"line_items", len(result.LineItems))

	return result, nil
}
