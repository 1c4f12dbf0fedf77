package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"afroboost/campaign"
	"afroboost/channels"
	"afroboost/metrics"
	"afroboost/models"
	"afroboost/store"
	"afroboost/utils"

	"github.com/sirupsen/logrus"
)

type CampaignStore interface {
	ClaimDue(ctx context.Context, workerID string, now time.Time) ([]string, error)
	ReclaimStale(ctx context.Context, workerID string, now time.Time, lease time.Duration) ([]string, error)
	ListOwnedRunning(ctx context.Context, workerID string) ([]models.Campaign, error)
	SaveCampaignLog(ctx context.Context, c *models.Campaign, workerID string, now time.Time) error
	FinishCampaign(ctx context.Context, c *models.Campaign, workerID string, now time.Time) error
}

type ChannelSource interface {
	Get(channel models.CampaignChannel) (channels.Sender, error)
}

type CampaignWorkerConfig struct {
	WorkerID       string
	Tick           time.Duration
	StartDelay     time.Duration
	Lease          time.Duration
	ChannelTimeout time.Duration
	MaxAttempts    int
	Location       *time.Location
}

// TickReport counts what one tick did.
type TickReport struct {
	Claimed   int
	Reclaimed int
	Sent      int
	Retried   int
	Failed    int
	Completed int
	Aborted   int
	Deferred  int
}

// CampaignWorker is the poser-ramasser loop: it holds no queue of its own and
// re-derives due work from the store on every tick. Claims are
// compare-and-set on status, so several workers can share one store.
type CampaignWorker struct {
	store    CampaignStore
	channels ChannelSource
	cfg      CampaignWorkerConfig
	now      func() time.Time
	logger   *logrus.Entry
}

func NewCampaignWorker(st CampaignStore, source ChannelSource, cfg CampaignWorkerConfig, logger *logrus.Entry) *CampaignWorker {
	if cfg.Tick <= 0 {
		cfg.Tick = 30 * time.Second
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 5 * time.Minute
	}
	if cfg.ChannelTimeout <= 0 {
		cfg.ChannelTimeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = campaign.DefaultMaxAttempts
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = logrus.WithField("component", "campaign_worker")
	}
	return &CampaignWorker{
		store:    st,
		channels: source,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.WithField("worker_id", cfg.WorkerID),
	}
}

func (w *CampaignWorker) Start(ctx context.Context) {
	// Let the server come up before the first tick
	select {
	case <-ctx.Done():
		return
	case <-time.After(w.cfg.StartDelay):
	}

	w.logger.WithField("tick", w.cfg.Tick).Info("Campaign worker started")

	ticker := time.NewTicker(w.cfg.Tick)
	defer ticker.Stop()

	for {
		if _, err := w.Tick(ctx); err != nil && ctx.Err() == nil {
			utils.LogError("campaign_tick", err, map[string]interface{}{"worker_id": w.cfg.WorkerID})
		}
		select {
		case <-ctx.Done():
			w.logger.Info("Campaign worker shutting down...")
			return
		case <-ticker.C:
		}
	}
}

// Tick claims due campaigns, takes over stale leases and advances every
// running campaign this worker owns. Running it twice for the same instant
// leaves the same terminal state.
func (w *CampaignWorker) Tick(ctx context.Context) (TickReport, error) {
	started := time.Now()
	defer func() { metrics.SchedulerTickDuration.Observe(time.Since(started).Seconds()) }()

	var report TickReport
	now := utils.UTC(w.now().In(w.cfg.Location))

	claimed, err := w.store.ClaimDue(ctx, w.cfg.WorkerID, now)
	report.Claimed = len(claimed)
	if err != nil {
		return report, fmt.Errorf("claim due campaigns: %w", err)
	}
	reclaimed, err := w.store.ReclaimStale(ctx, w.cfg.WorkerID, now, w.cfg.Lease)
	report.Reclaimed = len(reclaimed)
	if err != nil {
		return report, fmt.Errorf("reclaim stale campaigns: %w", err)
	}
	if report.Claimed > 0 || report.Reclaimed > 0 {
		metrics.CampaignTransitions.WithLabelValues(string(models.CampaignRunning)).Add(float64(report.Claimed))
		w.logger.WithFields(logrus.Fields{
			"claimed":   claimed,
			"reclaimed": reclaimed,
		}).Info("campaigns claimed")
	}

	owned, err := w.store.ListOwnedRunning(ctx, w.cfg.WorkerID)
	if err != nil {
		return report, fmt.Errorf("list owned campaigns: %w", err)
	}

	var errs []error
	for i := range owned {
		if ctx.Err() != nil {
			break
		}
		if err := w.process(ctx, &owned[i], &report); err != nil {
			errs = append(errs, fmt.Errorf("campaign %s: %w", owned[i].ID, err))
		}
	}
	return report, errors.Join(errs...)
}

type target struct {
	key       string
	recipient models.CampaignRecipient
}

func (w *CampaignWorker) process(ctx context.Context, c *models.Campaign, report *TickReport) error {
	log := w.logger.WithFields(logrus.Fields{"campaign_id": c.ID, "coach_id": c.CoachID})

	targets := dedupe(c)
	if len(targets) == 0 {
		return w.fail(ctx, c, "no reachable recipients after de-duplication", report, log)
	}
	sender, err := w.channels.Get(c.Channel)
	if err != nil {
		if !dispatched(c) {
			return w.fail(ctx, c, err.Error(), report, log)
		}
		// Dispatch already began under an earlier owner. The lease is left to
		// expire so a worker that has the channel can take the rest.
		report.Deferred++
		log.WithError(err).Warn("channel unavailable mid-campaign, leaving remaining recipients pending")
		return nil
	}

	maxAttempts := c.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = w.cfg.MaxAttempts
	}

	entries := make(map[string]int, len(c.Log))
	for i, entry := range c.Log {
		entries[entry.RecipientKey] = i
	}

	for _, t := range targets {
		idx, ok := entries[t.key]
		if !ok {
			c.Log = append(c.Log, models.CampaignLogEntry{
				RecipientKey: t.key,
				Name:         t.recipient.Name,
				Address:      t.key,
				Status:       models.RecipientPending,
			})
			idx = len(c.Log) - 1
			entries[t.key] = idx
		}
		if c.Log[idx].Terminal() {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		entry := &c.Log[idx]
		if entry.Attempts >= maxAttempts {
			entry.Status = models.RecipientFailed
		} else {
			w.send(ctx, c, sender, t, entry, maxAttempts, report)
		}

		// The outcome is recorded even when shutdown began during the send,
		// so an accepted message is not sent again.
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.ChannelTimeout)
		err := w.store.SaveCampaignLog(saveCtx, c, w.cfg.WorkerID, utils.UTC(w.now()))
		cancel()
		if errors.Is(err, store.ErrStateChanged) {
			log.Warn("campaign lease lost, leaving it to its new owner")
			return nil
		}
		if err != nil {
			return fmt.Errorf("save log for %s: %w", t.key, err)
		}
	}

	for _, entry := range c.Log {
		if !entry.Terminal() {
			return nil
		}
	}
	return w.finish(ctx, c, models.CampaignCompleted, "", report, log)
}

// dispatched reports whether any recipient was attempted already.
func dispatched(c *models.Campaign) bool {
	for _, entry := range c.Log {
		if entry.Attempts > 0 || entry.Terminal() {
			return true
		}
	}
	return false
}

func (w *CampaignWorker) send(ctx context.Context, c *models.Campaign, sender channels.Sender, t target, entry *models.CampaignLogEntry, maxAttempts int, report *TickReport) {
	sendCtx, cancel := context.WithTimeout(ctx, w.cfg.ChannelTimeout)
	res, err := sender.Send(sendCtx, channels.Message{
		IdempotencyKey: c.ID + ":" + t.key,
		To:             t.key,
		Name:           t.recipient.Name,
		Subject:        c.Subject,
		Body:           personalize(c.Body, t.recipient.Name),
		ReplyTo:        replyTo(c.CoachID),
	})
	cancel()

	entry.Attempts++
	entry.AttemptedAt = utils.Pointer(utils.UTC(w.now()))

	switch {
	case err == nil:
		entry.Status = models.RecipientSent
		entry.ProviderID = res.ProviderID
		entry.Error = ""
		report.Sent++
	case channels.IsPermanent(err) || entry.Attempts >= maxAttempts:
		entry.Status = models.RecipientFailed
		entry.Error = err.Error()
		report.Failed++
	default:
		entry.Status = models.RecipientPending
		entry.Error = err.Error()
		report.Retried++
	}
	metrics.CampaignDeliveries.WithLabelValues(string(c.Channel), string(entry.Status)).Inc()
}

func (w *CampaignWorker) fail(ctx context.Context, c *models.Campaign, reason string, report *TickReport, log *logrus.Entry) error {
	report.Aborted++
	return w.finish(ctx, c, models.CampaignFailed, reason, report, log)
}

func (w *CampaignWorker) finish(ctx context.Context, c *models.Campaign, status models.CampaignStatus, reason string, report *TickReport, log *logrus.Entry) error {
	c.Status = status
	c.FailureReason = reason
	err := w.store.FinishCampaign(ctx, c, w.cfg.WorkerID, utils.UTC(w.now()))
	if errors.Is(err, store.ErrStateChanged) {
		log.Warn("campaign lease lost before completion")
		return nil
	}
	if err != nil {
		return fmt.Errorf("finish campaign: %w", err)
	}
	if status == models.CampaignCompleted {
		report.Completed++
	}
	metrics.CampaignTransitions.WithLabelValues(string(status)).Inc()
	utils.LogEvent("campaign_"+string(status), map[string]interface{}{
		"campaign_id": c.ID,
		"coach_id":    c.CoachID,
		"reason":      reason,
	})
	return nil
}

// dedupe keeps the first recipient per key and drops those the channel
// cannot reach.
func dedupe(c *models.Campaign) []target {
	seen := make(map[string]bool, len(c.Recipients))
	out := make([]target, 0, len(c.Recipients))
	for _, r := range c.Recipients {
		key := campaign.RecipientKey(c.Channel, r)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, target{key: key, recipient: r})
	}
	return out
}

func personalize(body, name string) string {
	return strings.NewReplacer("{name}", name, "{prénom}", name, "{prenom}", name).Replace(body)
}

func replyTo(coachID string) string {
	if strings.Contains(coachID, "@") {
		return coachID
	}
	return ""
}
