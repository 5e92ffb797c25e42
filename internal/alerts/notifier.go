package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Notifier forwards triggered alerts to external webhooks
type Notifier struct {
	httpClient  *http.Client
	webhookURLs []string
	enabled     bool
	logger      zerolog.Logger
}

// NewNotifier creates a new webhook notifier
func NewNotifier(webhookURLs []string, logger zerolog.Logger) *Notifier {
	return &Notifier{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		webhookURLs: webhookURLs,
		enabled:     len(webhookURLs) > 0,
		logger:      logger.With().Str("component", "notifier").Logger(),
	}
}

// Enabled reports whether any webhook is configured
func (n *Notifier) Enabled() bool { return n.enabled }

// SendAlert posts alert to every configured webhook. Individual webhook
// failures are logged; the number of failed deliveries is returned.
func (n *Notifier) SendAlert(ctx context.Context, alert TriggeredAlert) int {
	if !n.enabled {
		return 0
	}

	failed := 0
	for _, webhookURL := range n.webhookURLs {
		if err := n.sendWebhook(ctx, webhookURL, alert); err != nil {
			failed++
			n.logger.Error().
				Err(err).
				Str("webhook", webhookURL).
				Str("symbol", alert.Symbol).
				Str("kind", string(alert.Kind)).
				Msg("Failed to send webhook")
			continue
		}

		n.logger.Debug().
			Str("webhook", webhookURL).
			Str("symbol", alert.Symbol).
			Str("kind", string(alert.Kind)).
			Msg("Webhook sent successfully")
	}

	return failed
}

func (n *Notifier) sendWebhook(ctx context.Context, webhookURL string, alert TriggeredAlert) error {
	payloadBytes, err := json.Marshal(formatPayload(alert))
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewBuffer(payloadBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}

	return nil
}

// formatPayload renders a Discord embed (also accepted by most Telegram bridges)
func formatPayload(alert TriggeredAlert) map[string]interface{} {
	return map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       fmt.Sprintf("%s %s", kindLabel(alert.Kind), alert.Symbol),
				"description": alert.Message,
				"color":       kindColor(alert.Kind),
				"fields": []map[string]interface{}{
					{
						"name":   "Time",
						"value":  alert.OccurredAt.UTC().Format("15:04:05 UTC"),
						"inline": true,
					},
					{
						"name":   "Definition",
						"value":  alert.DefinitionID,
						"inline": true,
					},
				},
				"timestamp": alert.OccurredAt.Format(time.RFC3339),
				"footer": map[string]interface{}{
					"text": "Forecast Alert",
				},
			},
		},
	}
}

func kindColor(kind ConditionKind) int {
	switch kind {
	case KindPrice:
		return 0xF0B90B
	case KindConfidence:
		return 0x00FF00
	case KindRecommendation:
		return 0x0099FF
	default:
		return 0x808080
	}
}

func kindLabel(kind ConditionKind) string {
	switch kind {
	case KindPrice:
		return "💰 Price"
	case KindConfidence:
		return "📈 Confidence"
	case KindRecommendation:
		return "🔔 Recommendation"
	default:
		return "🔔"
	}
}
