/**
 * @description
 * This file contains the HTTP handlers for the payments-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @notes
 * - Provider-facing endpoints (STK callback, C2B validation/confirmation) always
 *   return HTTP 200 with the provider's result-code envelope; a non-200 would
 *   make M-Pesa retry or blacklist the URL.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tps-sacco/payments-service/internal/app"
	"github.com/tps-sacco/payments-service/internal/domain"
	"github.com/tps-sacco/payments-service/internal/store"
)

// PaymentHandlers holds the application service that handlers will use.
type PaymentHandlers struct {
	service *app.Service
}

// NewPaymentHandlers creates a new instance of PaymentHandlers.
func NewPaymentHandlers(service *app.Service) *PaymentHandlers {
	return &PaymentHandlers{service: service}
}

// stkPushResponse is sent back to the client after a push request has been
// accepted or rejected. Field names mirror what the mobile client reads.
type stkPushResponse struct {
	Success           bool   `json:"success"`
	Message           string `json:"message,omitempty"`
	RequestID         string `json:"request_id,omitempty"`
	CheckoutRequestID string `json:"checkoutRequestID,omitempty"`
	Reused            bool   `json:"reused,omitempty"`
}

// StkPushHandler handles requests to initiate an STK push payment.
func (h *PaymentHandlers) StkPushHandler(w http.ResponseWriter, r *http.Request) {
	var payload domain.StkPushPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		log.Printf("level=warn component=api endpoint=stk_push outcome=reject reason=invalid_json err=%v", err)
		h.writeJSON(w, http.StatusBadRequest, stkPushResponse{Success: false, Message: "Invalid request body"})
		return
	}

	result, err := h.service.InitiateStkPush(r.Context(), payload)
	if err != nil {
		status, message := pushErrorResponse(err)
		log.Printf("level=warn component=api endpoint=stk_push outcome=reject member_id=%s amount=%d err=%v", payload.MemberID, payload.Total, err)
		h.writeJSON(w, status, stkPushResponse{Success: false, Message: message})
		return
	}

	log.Printf("level=info component=api endpoint=stk_push outcome=accepted request_id=%s checkout_request_id=%s reused=%t", result.RequestID, result.CheckoutRequestID, result.Reused)
	h.writeJSON(w, http.StatusOK, stkPushResponse{
		Success:           true,
		Message:           "STK push initiated. Complete the prompt on your phone.",
		RequestID:         result.RequestID.String(),
		CheckoutRequestID: result.CheckoutRequestID,
		Reused:            result.Reused,
	})
}

func pushErrorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, app.ErrInvalidPhone):
		return http.StatusBadRequest, "Invalid phone number. Use the format 2547XXXXXXXX."
	case errors.Is(err, app.ErrInvalidAmount):
		return http.StatusBadRequest, "Amount must be greater than zero."
	case errors.Is(err, app.ErrMissingMember):
		return http.StatusBadRequest, "A member id is required."
	case errors.Is(err, app.ErrBreakdownMismatch):
		return http.StatusBadRequest, "Breakdown amounts must sum to the payment total."
	case errors.Is(err, app.ErrNegativeBreakdown):
		return http.StatusBadRequest, "Breakdown amounts must not be negative."
	case errors.Is(err, app.ErrGatewayRejected):
		return http.StatusBadGateway, "The payment provider rejected the push request. Try again shortly."
	default:
		return http.StatusInternalServerError, "Unable to initiate payment"
	}
}

// GetPaymentRequestHandler returns the current state of a push-payment request
// so clients can poll for the outcome while the prompt is on the member's phone.
func (h *PaymentHandlers) GetPaymentRequestHandler(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "requestID")
	requestID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request id")
		return
	}

	request, err := h.service.GetPaymentRequest(r.Context(), requestID)
	if err != nil {
		if errors.Is(err, store.ErrPaymentRequestNotFound) {
			h.writeError(w, http.StatusNotFound, "Payment request not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_payment_request request_id=%s err=%v", requestID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to fetch payment request")
		return
	}

	h.writeJSON(w, http.StatusOK, request)
}

// stkCallbackAck is the acknowledgement envelope M-Pesa expects from the
// callback URL. ResultCode 0 tells the provider the callback was consumed.
type stkCallbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// StkCallbackHandler ingests the asynchronous settlement callback from the
// payment provider. It always answers 200: settlement failures on our side
// are logged and reconciled out of band, never bounced back to the provider.
func (h *PaymentHandlers) StkCallbackHandler(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("level=warn component=api endpoint=stk_callback outcome=reject reason=unreadable_body err=%v", err)
		h.writeJSON(w, http.StatusOK, stkCallbackAck{ResultCode: 1, ResultDesc: "Rejected"})
		return
	}

	if err := h.service.ProcessStkCallback(r.Context(), raw); err != nil {
		log.Printf("level=error component=api endpoint=stk_callback outcome=error err=%v", err)
		observeSettlement("stk", "rejected")
		h.writeJSON(w, http.StatusOK, stkCallbackAck{ResultCode: 1, ResultDesc: "Rejected"})
		return
	}

	observeSettlement("stk", "accepted")
	h.writeJSON(w, http.StatusOK, stkCallbackAck{ResultCode: 0, ResultDesc: "Accepted"})
}

// billPayValidationRequest carries the fields the C2B validation hook sends.
// The provider uses PascalCase keys.
type billPayValidationRequest struct {
	TransID       string `json:"TransID"`
	TransAmount   string `json:"TransAmount"`
	BillRefNumber string `json:"BillRefNumber"`
	MSISDN        string `json:"MSISDN"`
}

type billPayValidationResponse struct {
	ResultCode any    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// BillPayValidationHandler decides whether a direct pay-bill payment should be
// accepted. Always 200; the decision travels in ResultCode ("C2B00011" invalid
// MSISDN, "C2B00012" unknown account, 0 accepted).
func (h *PaymentHandlers) BillPayValidationHandler(w http.ResponseWriter, r *http.Request) {
	var req billPayValidationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=billpay_validation outcome=reject reason=invalid_json err=%v", err)
		h.writeJSON(w, http.StatusOK, billPayValidationResponse{ResultCode: "C2B00012", ResultDesc: "Rejected"})
		return
	}

	_, err := h.service.ValidateBillPay(r.Context(), req.MSISDN, req.BillRefNumber)
	if err != nil {
		code := "C2B00012"
		if errors.Is(err, app.ErrInvalidMSISDN) {
			code = "C2B00011"
		}
		log.Printf("level=info component=api endpoint=billpay_validation outcome=reject bill_ref=%q code=%s err=%v", req.BillRefNumber, code, err)
		h.writeJSON(w, http.StatusOK, billPayValidationResponse{ResultCode: code, ResultDesc: "Rejected"})
		return
	}

	log.Printf("level=info component=api endpoint=billpay_validation outcome=accepted bill_ref=%q trans_id=%s", req.BillRefNumber, req.TransID)
	h.writeJSON(w, http.StatusOK, billPayValidationResponse{ResultCode: 0, ResultDesc: "Accepted"})
}

// billPayConfirmationRequest carries the fields the C2B confirmation hook sends.
type billPayConfirmationRequest struct {
	TransID           string `json:"TransID"`
	TransTime         string `json:"TransTime"`
	TransAmount       string `json:"TransAmount"`
	BillRefNumber     string `json:"BillRefNumber"`
	MSISDN            string `json:"MSISDN"`
	FirstName         string `json:"FirstName"`
	BusinessShortCode string `json:"BusinessShortCode"`
}

type billPayConfirmationResponse struct {
	ResultCode string `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// BillPayConfirmationHandler records a confirmed direct pay-bill payment and
// runs the allocation cascade. The provider has already moved the money when
// this hook fires, so processing errors are logged for reconciliation and the
// hook still acknowledges.
func (h *PaymentHandlers) BillPayConfirmationHandler(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("level=warn component=api endpoint=billpay_confirmation outcome=reject reason=unreadable_body err=%v", err)
		h.writeJSON(w, http.StatusOK, billPayConfirmationResponse{ResultCode: "1", ResultDesc: "Rejected"})
		return
	}

	var req billPayConfirmationRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		log.Printf("level=warn component=api endpoint=billpay_confirmation outcome=reject reason=invalid_json err=%v", err)
		h.writeJSON(w, http.StatusOK, billPayConfirmationResponse{ResultCode: "1", ResultDesc: "Rejected"})
		return
	}

	confirmation := app.BillPayConfirmation{
		BillRefNumber: req.BillRefNumber,
		Amount:        centsFromAmountString(req.TransAmount),
		TransID:       req.TransID,
		Phone:         req.MSISDN,
		PaymentDate:   req.TransTime,
	}

	if err := h.service.ConfirmBillPay(r.Context(), confirmation, raw); err != nil {
		log.Printf("level=error component=api endpoint=billpay_confirmation outcome=error trans_id=%s bill_ref=%q err=%v", req.TransID, req.BillRefNumber, err)
		observeSettlement("billpay", "rejected")
		h.writeJSON(w, http.StatusOK, billPayConfirmationResponse{ResultCode: "1", ResultDesc: "Rejected"})
		return
	}

	observeSettlement("billpay", "accepted")
	log.Printf("level=info component=api endpoint=billpay_confirmation outcome=accepted trans_id=%s bill_ref=%q", req.TransID, req.BillRefNumber)
	h.writeJSON(w, http.StatusOK, billPayConfirmationResponse{ResultCode: "0", ResultDesc: "Accepted"})
}

// centsFromAmountString parses the provider's decimal shilling amount ("300"
// or "300.00") into cents. Malformed values come through as zero; the
// confirmation path treats those as missing.
func centsFromAmountString(raw string) int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	whole := raw
	frac := ""
	if idx := strings.IndexByte(raw, '.'); idx >= 0 {
		whole = raw[:idx]
		frac = raw[idx+1:]
	}
	negative := strings.HasPrefix(whole, "-")
	whole = strings.TrimPrefix(whole, "-")

	var cents int64
	for _, c := range whole {
		if c < '0' || c > '9' {
			return 0
		}
		cents = cents*10 + int64(c-'0')
	}
	cents *= 100
	for i, c := range frac {
		if i >= 2 {
			break
		}
		if c < '0' || c > '9' {
			return 0
		}
		unit := int64(10)
		if i == 1 {
			unit = 1
		}
		cents += int64(c-'0') * unit
	}
	if negative {
		return -cents
	}
	return cents
}

// writeJSON is a helper for writing JSON responses.
func (h *PaymentHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *PaymentHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
