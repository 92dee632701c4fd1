package botframework

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const connectorScope = "https://api.botframework.com/.default"

// Replier posts a text reply to the conversation an activity came from.
type Replier interface {
	Reply(ctx context.Context, activity *Activity, text string) error
}

type ConnectorConfig struct {
	AppID        string
	ClientSecret string
	TenantID     string
	TokenURL     string // defaults to the tenant's Entra ID v2.0 token endpoint
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// Connector is the outbound Bot Framework client. Requests carry an
// OAuth2 client-credentials token unless no app id is configured.
type Connector struct {
	client *http.Client
	logger *slog.Logger
}

func NewConnector(cfg ConnectorConfig) *Connector {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client := cfg.HTTPClient
	if cfg.AppID != "" {
		tokenURL := cfg.TokenURL
		if tokenURL == "" {
			tokenURL = "https://login.microsoftonline.com/" + cfg.TenantID + "/oauth2/v2.0/token"
		}
		cc := clientcredentials.Config{
			ClientID:     cfg.AppID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     tokenURL,
			Scopes:       []string{connectorScope},
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, cfg.HTTPClient)
		client = cc.Client(ctx)
		client.Timeout = cfg.HTTPClient.Timeout
	}

	return &Connector{client: client, logger: cfg.Logger}
}

// Reply posts text as a reply to activity via
// <serviceUrl>/v3/conversations/<id>/activities/<activityId>.
func (c *Connector) Reply(ctx context.Context, activity *Activity, text string) error {
	if activity.ServiceURL == "" {
		return fmt.Errorf("reply: activity has no serviceUrl")
	}
	endpoint := strings.TrimRight(activity.ServiceURL, "/") +
		"/v3/conversations/" + url.PathEscape(activity.Conversation.ID) +
		"/activities/" + url.PathEscape(activity.ID)

	body, err := json.Marshal(activity.NewReply(text))
	if err != nil {
		return fmt.Errorf("reply: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("reply: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("reply: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("reply: connector returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Debug("reply sent",
		"conversation", activity.Conversation.ID,
		"reply_to", activity.ID,
		"text_len", len(text),
	)
	return nil
}

var _ Replier = (*Connector)(nil)
