package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/clawdhub/skillguard/models"
	"github.com/clawdhub/skillguard/pkg/robusthttp"
)

type SlackNotifier struct {
	SlackWebhookURL string
	// base URL of the public marketplace, used for skill links (optional)
	SiteURL string
	Client  *http.Client
}

var _ Notifier = (*SlackNotifier)(nil)

func NewSlackNotifier(webhookURL, siteURL string) *SlackNotifier {
	return &SlackNotifier{
		SlackWebhookURL: webhookURL,
		SiteURL:         strings.TrimRight(siteURL, "/"),
		Client:          robusthttp.NewClient(robusthttp.WithMaxRetries(1)),
	}
}

func (n *SlackNotifier) SendReport(ctx context.Context, skill *models.Skill, reason string) error {
	return n.sendSlackMsg(ctx, slackBody("⚠️ Automod Skill Report ⚠️\n", n.SiteURL, skill, reason))
}

type SlackWebhookBody struct {
	Text string `json:"text"`
}

// Sends a simple slack message to a channel via "incoming webhook".
//
// The slack incoming webhook must be already configured in the slack workplace.
func (n *SlackNotifier) sendSlackMsg(ctx context.Context, msg string) error {
	body, err := json.Marshal(SlackWebhookBody{Text: msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.SlackWebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	buf.ReadFrom(resp.Body)
	if resp.StatusCode != 200 || buf.String() != "ok" {
		return fmt.Errorf("failed slack webhook POST request. status=%d", resp.StatusCode)
	}
	return nil
}

func slackBody(header, siteURL string, skill *models.Skill, reason string) string {
	msg := header
	if siteURL != "" {
		msg += fmt.Sprintf("`%s` / %s / <%s/skills/%s|marketplace>\n", skill.Slug, skill.DisplayName, siteURL, skill.Slug)
	} else {
		msg += fmt.Sprintf("`%s` / %s\n", skill.Slug, skill.DisplayName)
	}
	msg += fmt.Sprintf("Report: %s\n", reason)
	if len(skill.ModerationFlags) > 0 {
		msg += fmt.Sprintf("Flags: `%s`\n", strings.Join(skill.ModerationFlags, ", "))
	}
	return msg
}
