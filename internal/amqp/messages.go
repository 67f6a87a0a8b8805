package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"presupuesto/internal/core"
)

// RefreshMessageType tags messages announcing a completed refresh run.
const RefreshMessageType = "budget.refreshed"

// RefreshMessage announces that the worker recomputed the public results.
// It carries a summary only; receivers invalidate and recompute on demand.
type RefreshMessage struct {
	Type            string    `json:"type"`
	RunID           string    `json:"run_id"`
	FiscalYear      int       `json:"fiscal_year"`
	BudgetSource    string    `json:"budget_source"`
	MobilitySource  string    `json:"mobility_source"`
	Fallback        bool      `json:"fallback"`
	SnapshotVersion string    `json:"snapshot_version,omitempty"`
	Categories      int       `json:"categories"`
	TotalApproved   string    `json:"total_approved"`
	Timestamp       time.Time `json:"timestamp"`
}

// NewRefreshMessage summarizes one refresh run.
func NewRefreshMessage(budget core.BudgetModel, mobility core.MobilityView) *RefreshMessage {
	msg := &RefreshMessage{
		Type:           RefreshMessageType,
		RunID:          budget.RunID,
		FiscalYear:     budget.FiscalYear,
		BudgetSource:   budget.Source,
		MobilitySource: mobility.Source,
		Fallback:       budget.Fallback || mobility.Fallback,
		Categories:     len(budget.Categories),
		TotalApproved:  budget.TotalApproved.StringFixed(2),
		Timestamp:      time.Now().UTC(),
	}
	switch {
	case budget.SnapshotVersion != "":
		msg.SnapshotVersion = budget.SnapshotVersion
	case mobility.SnapshotVersion != "":
		msg.SnapshotVersion = mobility.SnapshotVersion
	}
	return msg
}

func (m *RefreshMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// RefreshMessageFromJSON decodes a message and rejects other message types.
func RefreshMessageFromJSON(data []byte) (*RefreshMessage, error) {
	var msg RefreshMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Type != RefreshMessageType {
		return nil, fmt.Errorf("unexpected message type %q", msg.Type)
	}
	return &msg, nil
}
