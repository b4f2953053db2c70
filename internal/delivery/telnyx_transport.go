package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/inbound-coalescer/pkg/logging"
)

const (
	defaultTelnyxBaseURL = "https://api.telnyx.com/v2"
	telnyxMaxAttempts    = 3
)

var telnyxTracer = otel.Tracer("coalescer.internal.delivery.telnyx")

// TelnyxTransport posts messages through the Telnyx v2 messages API. The
// target's ConnectionID is the sending number and ChatID the recipient.
type TelnyxTransport struct {
	apiKey             string
	messagingProfileID string
	baseURL            string
	httpClient         *http.Client
	logger             *logging.Logger
	backoff            func(attempt int) time.Duration
}

// NewTelnyxTransport builds a transport; an empty baseURL uses the public API.
func NewTelnyxTransport(apiKey, messagingProfileID, baseURL string, logger *logging.Logger) *TelnyxTransport {
	if logger == nil {
		logger = logging.Default()
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultTelnyxBaseURL
	}
	return &TelnyxTransport{
		apiKey:             apiKey,
		messagingProfileID: messagingProfileID,
		baseURL:            strings.TrimRight(baseURL, "/"),
		httpClient:         &http.Client{Timeout: 10 * time.Second},
		logger:             logger,
		backoff: func(int) time.Duration {
			return time.Duration(200+rand.Intn(300)) * time.Millisecond
		},
	}
}

var _ Transport = (*TelnyxTransport)(nil)

func (t *TelnyxTransport) Send(ctx context.Context, target Target, text string) (string, error) {
	if t.apiKey == "" {
		return "", errors.New("delivery: telnyx api key missing")
	}
	if target.ChatID == "" || target.ConnectionID == "" {
		return "", errors.New("delivery: telnyx requires connection and chat ids")
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("delivery: text required")
	}

	ctx, span := telnyxTracer.Start(ctx, "delivery.telnyx.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("coalescer.tenant_id", target.TenantID),
		attribute.String("coalescer.session_key", target.SessionKey),
	)

	payload := map[string]any{
		"from": target.ConnectionID,
		"to":   target.ChatID,
		"text": text,
	}
	if t.messagingProfileID != "" {
		payload["messaging_profile_id"] = t.messagingProfileID
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("delivery: marshal telnyx payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= telnyxMaxAttempts; attempt++ {
		id, retryable, err := t.post(ctx, body)
		if err == nil {
			return id, nil
		}
		lastErr = err
		if !retryable || attempt == telnyxMaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			span.RecordError(ctx.Err())
			return "", fmt.Errorf("%w: %v", ErrSendFailed, ctx.Err())
		case <-time.After(t.backoff(attempt)):
		}
	}

	span.RecordError(lastErr)
	return "", fmt.Errorf("%w: %v", ErrSendFailed, lastErr)
}

func (t *TelnyxTransport) post(ctx context.Context, body []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", true, err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var parsed struct {
			Data struct {
				ID string `json:"id"`
			} `json:"data"`
		}
		if len(respBody) > 0 {
			_ = json.Unmarshal(respBody, &parsed)
		}
		return parsed.Data.ID, false, nil
	}

	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	if len(respBody) > 0 {
		return "", retryable, fmt.Errorf("telnyx status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return "", retryable, fmt.Errorf("telnyx status %d", resp.StatusCode)
}
