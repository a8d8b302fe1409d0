// Package discord posts refresh run summaries to a Discord webhook.
package discord

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	sonic "github.com/bytedance/sonic"
	crerr "github.com/cockroachdb/errors"
	"github.com/valyala/bytebufferpool"

	"github.com/kbinsights/kickbase-insights/internal/platform/logging"
	"github.com/kbinsights/kickbase-insights/internal/usecase"
)

const (
	botUsername  = "Kickbase Insights"
	colorSuccess = 6617600  // green
	colorWarning = 16760576 // amber
)

type NotifierConfig struct {
	HTTPClient *http.Client
	WebhookURL string
	Timeout    time.Duration
	Logger     *logging.Logger
}

// Notifier posts one embed per refresh run. Delivery is best effort; failures
// are logged and swallowed so a broken webhook never fails a run.
type Notifier struct {
	httpClient *http.Client
	webhookURL string
	logger     *logging.Logger
}

// NewNotifier validates the webhook URL up front so a misconfigured one
// surfaces at startup, not on the first run.
func NewNotifier(cfg NotifierConfig) (*Notifier, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	webhookURL := strings.TrimSpace(cfg.WebhookURL)
	parsed, err := url.Parse(webhookURL)
	if err != nil {
		return nil, crerr.Wrap(err, "parse discord webhook url")
	}
	if parsed.Scheme != "https" || strings.TrimSpace(parsed.Host) == "" {
		return nil, crerr.Newf("discord webhook url %q must be an absolute https url", webhookURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if httpClient.Timeout <= 0 {
		httpClient.Timeout = 10 * time.Second
	}

	return &Notifier{
		httpClient: httpClient,
		webhookURL: webhookURL,
		logger:     logger,
	}, nil
}

var _ usecase.RunNotifier = (*Notifier)(nil)

type webhookPayload struct {
	Username string         `json:"username"`
	Embeds   []webhookEmbed `json:"embeds"`
}

type webhookEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

func (n *Notifier) NotifyRun(ctx context.Context, result usecase.RunResult) {
	payload := webhookPayload{
		Username: botUsername,
		Embeds:   []webhookEmbed{buildRunEmbed(result)},
	}

	body, err := sonic.Marshal(payload)
	if err != nil {
		n.logger.ErrorContext(ctx, "encode discord payload failed", "error", err)
		return
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	_, _ = buf.Write(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(buf.B))
	if err != nil {
		n.logger.ErrorContext(ctx, "build discord request failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.WarnContext(ctx, "discord notification failed", "error", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.logger.WarnContext(ctx, "discord webhook rejected notification", "status", resp.StatusCode)
	}
}

func buildRunEmbed(result usecase.RunResult) webhookEmbed {
	failed := result.FailedSections()
	embed := webhookEmbed{
		Title: "Dashboard refresh finished",
		Color: colorSuccess,
	}

	var b strings.Builder
	fmt.Fprintf(&b, "League %s: %d managers, %d transfers (%d new), %d turnovers in %s.",
		result.LeagueID,
		result.ManagerCount,
		result.TransferCount,
		result.NewTransfers,
		result.PairCount,
		result.Duration.Round(time.Second),
	)
	if len(failed) > 0 {
		embed.Title = "Dashboard refresh finished with errors"
		embed.Color = colorWarning
		names := make([]string, 0, len(failed))
		for _, section := range failed {
			names = append(names, string(section))
		}
		fmt.Fprintf(&b, " Failed sections: %s.", strings.Join(names, ", "))
	}
	embed.Description = b.String()
	return embed
}
