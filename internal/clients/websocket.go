package clients

import (
	"context"
	"fmt"

	"revenue-ledger/internal/domain"
	ws "revenue-ledger/internal/transport/websocket"

	"github.com/shopspring/decimal"
)

const (
	EventPaymentReceived     = "payment.received"
	EventLedgerApproved      = "ledger.approved"
	EventLedgerPaid          = "ledger.paid"
	EventSettlementCompleted = "settlement.completed"
)

// WebSocketNotifier turns ledger events into hub messages. A nil hub makes
// every call a no-op.
type WebSocketNotifier struct {
	hub *ws.Hub
}

func NewWebSocketNotifier(hub *ws.Hub) *WebSocketNotifier {
	return &WebSocketNotifier{hub: hub}
}

func (n *WebSocketNotifier) PaymentReceived(_ context.Context, p *domain.Payment, entries []domain.LedgerEntry) {
	if n.hub == nil {
		return
	}
	n.hub.BroadcastAll(&ws.Message{
		Type:    EventPaymentReceived,
		Channel: fmt.Sprintf("payments#%s", p.ID),
		Data: map[string]any{
			"payment_id":        p.ID,
			"category":          p.Category,
			"gross_amount":      p.GrossAmount,
			"splits_calculated": p.SplitsCalculated,
			"entries":           len(entries),
		},
	})
}

// LedgerTransitioned tells every dashboard how many entries moved, and the
// acting operator which ids failed.
func (n *WebSocketNotifier) LedgerTransitioned(_ context.Context, operatorID *int64, status domain.LedgerStatus, res domain.BulkResult) {
	if n.hub == nil {
		return
	}
	event := EventLedgerApproved
	if status == domain.LedgerPaid {
		event = EventLedgerPaid
	}

	total := decimal.Zero
	for _, e := range res.Updated {
		total = total.Add(e.Amount)
	}
	n.hub.BroadcastAll(&ws.Message{
		Type:    event,
		Channel: "ledger",
		Data: map[string]any{
			"count":        len(res.Updated),
			"total_amount": total,
		},
	})

	if operatorID != nil && len(res.Failures) > 0 {
		n.hub.Broadcast(*operatorID, &ws.Message{
			Type:    event + ".failures",
			Channel: fmt.Sprintf("ledger#%d", *operatorID),
			Data:    res.Failures,
		})
	}
}

func (n *WebSocketNotifier) SettlementCompleted(_ context.Context, report domain.SettlementReport) {
	if n.hub == nil {
		return
	}
	n.hub.BroadcastAll(&ws.Message{
		Type:    EventSettlementCompleted,
		Channel: "settlement",
		Data:    report,
	})
}
