package violation

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pricewatch/internal/config"
	"github.com/sells-group/pricewatch/internal/model"
	"github.com/sells-group/pricewatch/internal/store"
)

// AlertRequest is the opaque payload handed to the notification collaborator.
type AlertRequest struct {
	ProductMatchID  string         `json:"product_match_id"`
	ProductTitle    string         `json:"product_title"`
	CompetitorName  string         `json:"competitor_name"`
	ReferencePrice  float64        `json:"reference_price"`
	CompetitorPrice float64        `json:"competitor_price"`
	Severity        model.Severity `json:"severity"`
	DetectedAt      time.Time      `json:"detected_at"`
}

// Alerter records alerts and posts them to the configured webhook. Delivery
// failures leave the alert open for a later retry; they never propagate to
// the caller.
type Alerter struct {
	store      store.Store
	webhookURL string
	http       *http.Client
}

// NewAlerter builds an Alerter. An empty webhook URL records alerts without
// delivering them.
func NewAlerter(st store.Store, cfg config.AlertConfig) *Alerter {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Alerter{
		store:      st,
		webhookURL: cfg.WebhookURL,
		http:       &http.Client{Timeout: timeout},
	}
}

// Emit stores an open alert for the violation and attempts webhook delivery.
func (a *Alerter) Emit(ctx context.Context, req AlertRequest) {
	if req.DetectedAt.IsZero() {
		req.DetectedAt = time.Now().UTC()
	}
	alert := model.ViolationAlert{
		ID:       uuid.New().String(),
		MatchID:  req.ProductMatchID,
		Severity: req.Severity,
		Status:   model.AlertOpen,
	}
	if err := a.store.CreateAlert(ctx, alert); err != nil {
		zap.L().Error("failed to record alert", zap.String("match", req.ProductMatchID), zap.Error(err))
		return
	}

	if a.webhookURL == "" {
		return
	}
	if err := a.deliver(ctx, req); err != nil {
		zap.L().Warn("alert delivery failed, leaving alert open",
			zap.String("match", req.ProductMatchID), zap.Error(err))
		return
	}
	if err := a.store.MarkAlertSent(ctx, alert.ID); err != nil {
		zap.L().Warn("failed to mark alert sent", zap.String("alert", alert.ID), zap.Error(err))
	}
}

func (a *Alerter) deliver(ctx context.Context, req AlertRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return eris.Wrap(err, "alerter: encode payload")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "alerter: build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return eris.Wrap(err, "alerter: post webhook")
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 300 {
		return eris.Errorf("alerter: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
