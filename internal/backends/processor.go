// Package backends instructs external payment processors to move money for
// non-crypto payments. The settlement core never holds card or wallet
// credentials; it only tells the processor that already captured a payment
// to reverse it.
package backends

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"marketcore/internal/common/errs"
)

// RefundRequest asks the processor to reverse a captured payment.
type RefundRequest struct {
	PaymentCode string `json:"paymentCode"`
	OrderID     string `json:"orderId"`
	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`
	Reason      string `json:"reason,omitempty"`
}

// Processor reverses captured payments on the processor side.
type Processor interface {
	Refund(ctx context.Context, req RefundRequest) error
}

// Request/reply subjects on the processor service.
const (
	SubjectRefund = "processor.refund"
)

// refundResponse is the processor's reply.
type refundResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Config holds processor adapter configuration.
type Config struct {
	RequestTimeout time.Duration `envconfig:"PROCESSOR_TIMEOUT" default:"30s"`
}

// NATSProcessor talks request/reply to the processor service over NATS.
type NATSProcessor struct {
	conn    *nats.Conn
	timeout time.Duration
	logger  *slog.Logger
}

// NewNATSProcessor creates a processor adapter over an existing connection.
func NewNATSProcessor(conn *nats.Conn, cfg Config, logger *slog.Logger) *NATSProcessor {
	return &NATSProcessor{conn: conn, timeout: cfg.RequestTimeout, logger: logger}
}

var _ Processor = (*NATSProcessor)(nil)

// Refund requests a reversal and fails unless the processor confirms it.
func (p *NATSProcessor) Refund(ctx context.Context, req RefundRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return errs.Wrap(errs.KindPaymentBackend, err, "marshaling refund request")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg, err := p.conn.RequestWithContext(ctx, SubjectRefund, payload)
	if err != nil {
		return errs.PaymentBackend(err, "refund request for %s failed", req.PaymentCode)
	}

	var resp refundResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return errs.PaymentBackend(err, "unreadable refund reply for %s", req.PaymentCode)
	}
	if !resp.Success {
		return errs.PaymentBackend(nil, "processor declined refund for %s: %s", req.PaymentCode, resp.Error)
	}

	p.logger.Info("refund confirmed by processor",
		"payment_code", req.PaymentCode,
		"amount_minor", req.AmountMinor,
		"currency", req.Currency,
	)
	return nil
}
