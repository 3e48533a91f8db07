package app

import (
	"testing"
	"time"
)

func TestExtractStkCallback_NestedBodyShape(t *testing.T) {
	raw := []byte(`{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "29115-34620561-1",
				"CheckoutRequestID": "ws_CO_191220191020363925",
				"ResultCode": 0,
				"ResultDesc": "The service request is processed successfully.",
				"CallbackMetadata": {
					"Item": [
						{"Name": "Amount", "Value": 300.00},
						{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
						{"Name": "TransactionDate", "Value": 20191219102115},
						{"Name": "PhoneNumber", "Value": 254712345678}
					]
				}
			}
		}
	}`)

	fields, err := extractStkCallback(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fields.ResultCode != 0 {
		t.Fatalf("expected result code 0, got %d", fields.ResultCode)
	}
	if fields.CheckoutRequestID != "ws_CO_191220191020363925" {
		t.Fatalf("unexpected checkout request id %q", fields.CheckoutRequestID)
	}
	if fields.MerchantRequestID != "29115-34620561-1" {
		t.Fatalf("unexpected merchant request id %q", fields.MerchantRequestID)
	}
	if fields.Amount != 30000 {
		t.Fatalf("expected 30000 cents, got %d", fields.Amount)
	}
	if fields.Receipt != "NLJ7RT61SV" {
		t.Fatalf("unexpected receipt %q", fields.Receipt)
	}
	if fields.Phone != "254712345678" {
		t.Fatalf("unexpected phone %q", fields.Phone)
	}
	if fields.TransactionDate == nil {
		t.Fatal("expected a transaction date")
	}
	want := time.Date(2019, 12, 19, 10, 21, 15, 0, time.UTC)
	if !fields.TransactionDate.Equal(want) {
		t.Fatalf("expected %v, got %v", want, *fields.TransactionDate)
	}
}

func TestExtractStkCallback_UnwrappedShape(t *testing.T) {
	raw := []byte(`{
		"stkCallback": {
			"CheckoutRequestID": "ws_CO_unwrapped",
			"ResultCode": "1032",
			"ResultDesc": "Request cancelled by user"
		}
	}`)

	fields, err := extractStkCallback(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fields.ResultCode != 1032 {
		t.Fatalf("expected result code 1032, got %d", fields.ResultCode)
	}
	if fields.CheckoutRequestID != "ws_CO_unwrapped" {
		t.Fatalf("unexpected checkout request id %q", fields.CheckoutRequestID)
	}
	if fields.Amount != 0 {
		t.Fatalf("expected zero amount for cancelled push, got %d", fields.Amount)
	}
}

func TestExtractStkCallback_FlatShapeWithAliases(t *testing.T) {
	raw := []byte(`{
		"checkoutrequestid": "ws_CO_flat",
		"Result": 0,
		"ResultDescription": "ok",
		"Amount": "450.50",
		"CallbackMetadata": [
			{"Name": "ReceiptNumber", "Value": "ABC123XYZ"},
			{"Name": "MSISDN", "Value": "254700000000"}
		]
	}`)

	fields, err := extractStkCallback(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fields.ResultCode != 0 {
		t.Fatalf("expected result code 0 from Result alias, got %d", fields.ResultCode)
	}
	if fields.ResultDesc != "ok" {
		t.Fatalf("unexpected result desc %q", fields.ResultDesc)
	}
	if fields.CheckoutRequestID != "ws_CO_flat" {
		t.Fatalf("expected case-insensitive key match, got %q", fields.CheckoutRequestID)
	}
	if fields.Amount != 45050 {
		t.Fatalf("expected 45050 cents from string amount, got %d", fields.Amount)
	}
	if fields.Receipt != "ABC123XYZ" {
		t.Fatalf("unexpected receipt %q", fields.Receipt)
	}
	if fields.Phone != "254700000000" {
		t.Fatalf("unexpected phone %q", fields.Phone)
	}
}

func TestExtractStkCallback_MissingFieldsAreNotErrors(t *testing.T) {
	fields, err := extractStkCallback([]byte(`{"unrelated": true}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fields.ResultCode != -1 {
		t.Fatalf("expected sentinel result code -1, got %d", fields.ResultCode)
	}
	if fields.CheckoutRequestID != "" {
		t.Fatalf("expected empty checkout request id, got %q", fields.CheckoutRequestID)
	}
}

func TestExtractStkCallback_MalformedJSON(t *testing.T) {
	if _, err := extractStkCallback([]byte(`{"Body":`)); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestParseTransactionTimestamp(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  *time.Time
	}{
		{
			name:  "valid compact timestamp",
			input: "20240131134501",
			want:  timePtr(time.Date(2024, 1, 31, 13, 45, 1, 0, time.UTC)),
		},
		{
			name:  "iso 8601 fallback",
			input: "2024-01-31T13:45:01Z",
			want:  timePtr(time.Date(2024, 1, 31, 13, 45, 1, 0, time.UTC)),
		},
		{
			name:  "iso 8601 with offset normalized to utc",
			input: "2024-01-31T16:45:01+03:00",
			want:  timePtr(time.Date(2024, 1, 31, 13, 45, 1, 0, time.UTC)),
		},
		{name: "wrong length", input: "202401311345", want: nil},
		{name: "non numeric", input: "2024013113450x", want: nil},
		{name: "empty", input: "", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTransactionTimestamp(tt.input)
			if tt.want == nil {
				if got != nil {
					t.Fatalf("expected nil, got %v", *got)
				}
				return
			}
			if got == nil {
				t.Fatal("expected a timestamp, got nil")
			}
			if !got.Equal(*tt.want) {
				t.Fatalf("expected %v, got %v", *tt.want, *got)
			}
		})
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
