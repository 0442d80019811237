package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/nexio-tech/statusbridge/pkg/config"
)

const tracerName = "statusbridge"

var (
	// ErrTokenExchange is returned when the refresh-token grant fails; the
	// cached token is left untouched so a later call can retry.
	ErrTokenExchange = errors.New("crm: token exchange failed")
	// ErrUnauthorized is returned when the external system rejects the
	// bearer token.
	ErrUnauthorized = errors.New("crm: unauthorized")
)

// PendingRecord is an external record whose status has not reached the
// terminal value. Read-only from this system's perspective.
type PendingRecord struct {
	ExternalID string
	QueueID    string
	Status     string
}

// UpdateFields is the partial update pushed back for one external record.
// Field names follow the external module's custom fields.
type UpdateFields struct {
	Status      string `json:"Status"`
	QueueID     string `json:"Queue_ID_Webhook"`
	MessageID   string `json:"Message_ID_Webhook"`
	Timestamp   string `json:"TimeStamp_Webhook"`
	RecipientID string `json:"recipient_id_Webhook"`
}

// Client talks to the external reconciliation system. The only local state
// is the cached bearer token and its expiry.
type Client struct {
	httpClient *http.Client
	logger     *logrus.Logger
	cfg        config.CRMSettings

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewClient(cfg config.CRMSettings, logger *logrus.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		cfg:        cfg,
	}
}

// AccessToken returns the cached bearer token, exchanging the long-lived
// refresh credential for a fresh one when the cache is within the safety
// margin of expiry. A 1-hour provider token is treated as valid for 55
// minutes so refreshes happen proactively.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {c.cfg.RefreshToken},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.AccountsURL+"/oauth/v2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", ErrTokenExchange, resp.StatusCode, body)
	}

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		Error       string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}
	if token.Error != "" || token.AccessToken == "" {
		return "", fmt.Errorf("%w: %s", ErrTokenExchange, token.Error)
	}

	ttl := time.Duration(token.ExpiresIn) * time.Second
	c.accessToken = token.AccessToken
	c.tokenExpiry = time.Now().Add(ttl - c.cfg.TokenMargin)
	c.logger.WithField("expires_in", ttl).Info("refreshed CRM access token")

	return c.accessToken, nil
}

// FetchPending queries records whose status has not reached the terminal
// value, bounded by the configured fetch limit (1000 per call; pagination
// beyond the limit is a known gap).
func (c *Client) FetchPending(ctx context.Context) ([]PendingRecord, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "FetchPending")
	defer span.End()

	query := fmt.Sprintf(
		"select id, Queue_ID_DV, Status from %s where Status != 'Delivered' limit %d",
		c.cfg.Module, c.cfg.FetchLimit)
	body, err := json.Marshal(map[string]string{"select_query": query})
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodPost, c.cfg.APIBaseURL+"/crm/v2/coql", body)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if err := checkStatus(resp); err != nil {
		span.RecordError(err)
		return nil, err
	}

	var result struct {
		Data []struct {
			ID      string `json:"id"`
			QueueID string `json:"Queue_ID_DV"`
			Status  string `json:"Status"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		span.RecordError(err)
		return nil, err
	}

	records := make([]PendingRecord, 0, len(result.Data))
	for _, row := range result.Data {
		records = append(records, PendingRecord{
			ExternalID: row.ID,
			QueueID:    row.QueueID,
			Status:     row.Status,
		})
	}
	return records, nil
}

// UpdateRecord applies a partial update to one external record. No internal
// retry; retry policy lives in the scheduler.
func (c *Client) UpdateRecord(ctx context.Context, externalID string, fields UpdateFields) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "UpdateRecord")
	defer span.End()

	body, err := json.Marshal(map[string]interface{}{
		"data": []UpdateFields{fields},
	})
	if err != nil {
		return err
	}

	resp, err := c.do(ctx, http.MethodPut,
		fmt.Sprintf("%s/crm/v2/%s/%s", c.cfg.APIBaseURL, c.cfg.Module, externalID), body)
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Zoho-oauthtoken "+token)
	req.Header.Set("Content-Type", "application/json")

	return c.httpClient.Do(req)
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("crm: unexpected status %d: %s", resp.StatusCode, body)
	default:
		return nil
	}
}
