package ocr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestProcessReceipt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if got := r.Header.Get("apikey"); got != "test-key" {
			t.Errorf("apikey header = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if r.FormValue("extractLineItems") != "true" {
			t.Errorf("extractLineItems not set")
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file part: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"merchantName": {"data": "Trattoria da Mario"},
			"merchantAddress": {"data": "Via Roma 1"},
			"totalAmount": {"data": 41.50},
			"lineItems": [
				{"description": {"data": "pizza"}, "quantity": {"data": 2}, "unitPrice": {"data": 12.50}, "totalPrice": {"data": 25.00}},
				{"description": {"data": ""}, "quantity": {"data": 0}, "unitPrice": {"data": 0}, "totalPrice": {"data": 16.50}}
			]
		}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	result, err := client.ProcessReceipt(context.Background(), "receipt.jpg", strings.NewReader("fake image bytes"))
	if err != nil {
		t.Fatalf("process receipt: %v", err)
	}

	if result.MerchantName != "Trattoria da Mario" {
		t.Fatalf("merchant = %q", result.MerchantName)
	}
	if result.TotalCents != 4150 {
		t.Fatalf("total = %d, want 4150", result.TotalCents)
	}
	if len(result.LineItems) != 2 {
		t.Fatalf("line items = %d", len(result.LineItems))
	}
	if result.LineItems[0].UnitCents != 1250 || result.LineItems[0].Quantity != 2 {
		t.Fatalf("first line item = %+v", result.LineItems[0])
	}
	// Empty extraction fields come through as zero values; defaulting is
	// the ingestion adapter's job.
	if result.LineItems[1].Name != "" || result.LineItems[1].Quantity != 0 {
		t.Fatalf("second line item = %+v", result.LineItems[1])
	}
}

func TestProcessReceiptServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	if _, err := client.ProcessReceipt(context.Background(), "r.jpg", strings.NewReader("x")); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}
