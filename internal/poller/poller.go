// Package poller provides background conversation polling for LeadPipe.
//
// Open sessions are periodically refreshed from the lead API so replies
// that arrived out-of-band become visible. Terminal-state guards in the
// booking flow registry keep the refresh from re-offering resolved
// bookings.
package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/BTreeMap/LeadPipe/internal/session"
)

// RefreshTimeout bounds one session refresh round-trip.
const RefreshTimeout = 15 * time.Second

// Poller refreshes every open session on a cron schedule.
type Poller struct {
	cron    *cron.Cron
	manager *session.Manager
}

// NewPoller creates and starts a poller using the provided cron expression
// (standard 5-field syntax). An error is returned if the expression is invalid.
func NewPoller(manager *session.Manager, expr string) (*Poller, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	p := &Poller{cron: c, manager: manager}
	if _, err := c.AddFunc(expr, p.refreshAll); err != nil {
		return nil, err
	}
	c.Start()
	slog.Info("Conversation poller started", "schedule", expr)
	return p, nil
}

// refreshAll refreshes each open session sequentially. A failed refresh is
// logged and skipped; the stale view is correctable by the next round.
func (p *Poller) refreshAll() {
	leadIDs := p.manager.OpenLeadIDs()
	if len(leadIDs) == 0 {
		return
	}
	slog.Debug("Poller refreshing open sessions", "count", len(leadIDs))

	for _, leadID := range leadIDs {
		ctrl, exists := p.manager.Get(leadID)
		if !exists {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), RefreshTimeout)
		if err := ctrl.Refresh(ctx); err != nil {
			slog.Warn("Poller refresh failed", "leadID", leadID, "error", err)
		}
		cancel()
	}
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (p *Poller) Stop() {
	ctx := p.cron.Stop()
	<-ctx.Done()
	slog.Info("Conversation poller stopped")
}
