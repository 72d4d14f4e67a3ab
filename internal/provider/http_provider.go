package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"liveclass-service/internal/config"
	"liveclass-service/internal/models"
	"liveclass-service/internal/util"
)

// HTTPProvider talks to a conferencing vendor's REST API. Credentials
// are exchanged via the OAuth client-credentials flow and cached until
// shortly before expiry.
type HTTPProvider struct {
	cfg        config.ProviderConfig
	httpClient *http.Client

	credMu      sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewHTTPProvider(cfg config.ProviderConfig) *HTTPProvider {
	return &HTTPProvider{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
	}
}

type roomPayload struct {
	ID       string `json:"id"`
	JoinURL  string `json:"join_url"`
	StartURL string `json:"start_url"`
	Status   string `json:"status"`
}

type recordingPayload struct {
	ID          string    `json:"id"`
	StartTime   time.Time `json:"recording_start"`
	DurationMin int       `json:"duration"`
	DownloadURL string    `json:"download_url"`
}

func (p *HTTPProvider) CreateRoom(ctx context.Context, title string, startAt time.Time, duration time.Duration) (*Room, error) {
	body := map[string]interface{}{
		"topic":      title,
		"type":       2, // scheduled meeting
		"start_time": startAt.UTC().Format(time.RFC3339),
		"duration":   int(duration.Minutes()),
		"settings": map[string]interface{}{
			"waiting_room":     false,
			"join_before_host": false,
		},
	}

	var payload roomPayload
	if err := p.doJSON(ctx, http.MethodPost, "/users/me/meetings", body, &payload); err != nil {
		return nil, err
	}

	util.Info("Provider room created",
		zap.String("room_id", payload.ID),
		zap.String("title", title))

	return &Room{
		ID:      payload.ID,
		JoinURL: payload.JoinURL,
		HostURL: payload.StartURL,
		Active:  false,
	}, nil
}

func (p *HTTPProvider) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	var payload roomPayload
	err := p.doJSON(ctx, http.MethodGet, "/meetings/"+url.PathEscape(roomID), nil, &payload)
	if err != nil {
		return nil, err
	}

	return &Room{
		ID:      payload.ID,
		JoinURL: payload.JoinURL,
		HostURL: payload.StartURL,
		Active:  payload.Status == "started",
	}, nil
}

func (p *HTTPProvider) DeleteRoom(ctx context.Context, roomID string) error {
	return p.doJSON(ctx, http.MethodDelete, "/meetings/"+url.PathEscape(roomID), nil, nil)
}

func (p *HTTPProvider) ListRecordings(ctx context.Context, roomID string) ([]Recording, error) {
	var payload struct {
		Recordings []recordingPayload `json:"recording_files"`
	}
	if err := p.doJSON(ctx, http.MethodGet, "/meetings/"+url.PathEscape(roomID)+"/recordings", nil, &payload); err != nil {
		return nil, err
	}

	recordings := make([]Recording, 0, len(payload.Recordings))
	for _, r := range payload.Recordings {
		recordings = append(recordings, Recording{
			ID:          r.ID,
			StartedAt:   r.StartTime,
			Duration:    time.Duration(r.DurationMin) * time.Minute,
			DownloadURL: r.DownloadURL,
		})
	}
	return recordings, nil
}

func (p *HTTPProvider) JoinURLFor(ctx context.Context, roomID string, role models.Role) (string, error) {
	room, err := p.GetRoom(ctx, roomID)
	if err != nil {
		return "", err
	}
	if role.IsAdmin() {
		return room.HostURL, nil
	}
	return room.JoinURL, nil
}

// doJSON performs one API call with auth, bounded retry, and backoff.
// 4xx responses other than 401/404 are not retried; they mean the
// request itself is wrong.
func (p *HTTPProvider) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reqBody []byte
	if body != nil {
		var err error
		reqBody, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	backoff := p.cfg.RetryBackoff
	var lastErr error

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		token, err := p.credentials(ctx)
		if err != nil {
			lastErr = err
			continue
		}

		req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, bytes.NewReader(reqBody))
		if err != nil {
			return fmt.Errorf("failed to build provider request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := p.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrUnavailable, err)
			continue
		}

		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("%w: %v", ErrUnavailable, readErr)
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out != nil && len(respBody) > 0 {
				if err := json.Unmarshal(respBody, out); err != nil {
					return fmt.Errorf("failed to decode provider response: %w", err)
				}
			}
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %s %s", ErrRoomNotFound, method, path)
		case resp.StatusCode == http.StatusUnauthorized:
			// Token likely expired server-side; drop the cache and retry.
			p.invalidateCredentials()
			lastErr = fmt.Errorf("%w: provider rejected credentials", ErrUnavailable)
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
		default:
			return fmt.Errorf("provider request failed: status %d: %s", resp.StatusCode, respBody)
		}
	}

	return lastErr
}

// credentials returns a cached access token, refreshing it when within
// a minute of expiry.
func (p *HTTPProvider) credentials(ctx context.Context) (string, error) {
	p.credMu.Lock()
	defer p.credMu.Unlock()

	if p.accessToken != "" && time.Now().Before(p.tokenExpiry.Add(-time.Minute)) {
		return p.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "account_credentials")
	form.Set("account_id", p.cfg.AccountID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.AuthURL, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build credential request: %w", err)
	}
	basic := base64.StdEncoding.EncodeToString([]byte(p.cfg.ClientID + ":" + p.cfg.ClientSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: credential exchange: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: credential exchange status %d", ErrUnavailable, resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode credential response: %w", err)
	}

	p.accessToken = payload.AccessToken
	p.tokenExpiry = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)

	util.Debug("Provider credentials refreshed",
		zap.Time("expires_at", p.tokenExpiry))

	return p.accessToken, nil
}

func (p *HTTPProvider) invalidateCredentials() {
	p.credMu.Lock()
	p.accessToken = ""
	p.credMu.Unlock()
}
