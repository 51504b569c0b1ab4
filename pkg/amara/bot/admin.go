package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/jholhewres/amara/pkg/amara/channels"
)

// BroadcastResult tallies one broadcast.
type BroadcastResult struct {
	Total      int
	Successful int
	Failed     int
}

// DigestResult is the outcome of one digest cycle.
type DigestResult struct {
	Active int
	Pruned int64
}

// FormatStats renders the on-demand stats report.
func FormatStats(name string, active int) string {
	return fmt.Sprintf("On-Demand Stats:\nNew users interacted with %s in the last 24 hours: %d", name, active)
}

// FormatDigest renders the daily digest report.
func FormatDigest(name string, active int) string {
	return fmt.Sprintf("Daily Update:\nNew users interacted with %s in the last 24 hours: %d", name, active)
}

// FormatBroadcast renders the broadcast summary.
func FormatBroadcast(r BroadcastResult) string {
	return fmt.Sprintf("Broadcast Complete:\nTotal users: %d\nSuccessful sends: %d\nFailed sends: %d",
		r.Total, r.Successful, r.Failed)
}

// ActiveUsers counts distinct users within the report window.
func (e *Engine) ActiveUsers(ctx context.Context) (int, error) {
	return e.store.ActiveUsers(ctx, e.now().Add(-e.cfg.ReportWindow))
}

// sendStats reports the active-user count to the admin only.
func (e *Engine) sendStats(ctx context.Context) {
	n, err := e.ActiveUsers(ctx)
	if err != nil {
		e.logger.Error("counting active users failed", "action", "stats", "error", err)
		return
	}
	_ = e.sendText(ctx, e.cfg.AdminID, "stats", FormatStats(e.cfg.Name, n))
}

// startBroadcast validates the command and fans out in the background,
// reporting the tally to the admin when done.
func (e *Engine) startBroadcast(ctx context.Context, text string, attachment *channels.MediaInfo) {
	if text == "" && attachment == nil {
		_ = e.sendText(ctx, e.cfg.AdminID, "broadcast", msgBroadcastUsage)
		return
	}
	e.spawn(ctx, "broadcast", e.cfg.AdminID, func(ctx context.Context) {
		res := e.Broadcast(ctx, text, attachment)
		_ = e.sendText(ctx, e.cfg.AdminID, "broadcast", FormatBroadcast(res))
	})
}

// Broadcast sends text, or attachment captioned with text, to every user
// that ever interacted. Each send is attempted independently.
func (e *Engine) Broadcast(ctx context.Context, text string, attachment *channels.MediaInfo) BroadcastResult {
	users, err := e.store.KnownUsers(ctx)
	if err != nil {
		e.logger.Error("listing users failed", "action", "broadcast", "error", err)
		return BroadcastResult{}
	}

	res := BroadcastResult{Total: len(users)}
	for _, userID := range users {
		if err := e.broadcastOne(ctx, userID, text, attachment); err != nil {
			res.Failed++
			e.metrics.BroadcastSend(false)
			e.logger.Warn("broadcast send failed", "user_id", userID, "action", "broadcast", "error", err)
			continue
		}
		res.Successful++
		e.metrics.BroadcastSend(true)
	}

	e.logger.Info("broadcast complete", "total", res.Total, "successful", res.Successful, "failed", res.Failed)
	return res
}

func (e *Engine) broadcastOne(ctx context.Context, userID, text string, attachment *channels.MediaInfo) error {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	to, err := channels.Resolve(ctx, e.ch, userID)
	if err != nil {
		return err
	}
	if attachment == nil {
		return e.ch.Send(ctx, to, &channels.OutgoingMessage{Content: text})
	}
	mc, ok := e.ch.(channels.MediaChannel)
	if !ok {
		return channels.ErrMediaNotSupported
	}
	return mc.SendMedia(ctx, to, &channels.MediaMessage{
		Type:     attachment.Type,
		Ref:      attachment.Ref,
		MimeType: attachment.MimeType,
		Filename: attachment.Filename,
		Caption:  text,
	})
}

// Digest sends the trailing-window active-user count to the admin, then
// deletes interaction rows older than the window.
func (e *Engine) Digest(ctx context.Context) (DigestResult, error) {
	cutoff := e.now().Add(-e.cfg.ReportWindow)

	var res DigestResult
	active, countErr := e.store.ActiveUsers(ctx, cutoff)
	if countErr != nil {
		e.logger.Error("counting active users failed", "action", "digest", "error", countErr)
	} else {
		res.Active = active
		if e.cfg.AdminID != "" {
			_ = e.sendText(ctx, e.cfg.AdminID, "digest", FormatDigest(e.cfg.Name, active))
		}
	}

	pruned, pruneErr := e.store.PruneInteractions(ctx, cutoff)
	if pruneErr != nil {
		e.logger.Error("pruning interactions failed", "action", "digest", "error", pruneErr)
	}
	res.Pruned = pruned

	e.logger.Info("digest complete", "active", res.Active, "pruned", res.Pruned)
	return res, errors.Join(countErr, pruneErr)
}
