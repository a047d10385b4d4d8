package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freezelink/freezelink/internal/config"
	"github.com/freezelink/freezelink/internal/models"
)

// Sentinel errors surfaced to the boundary
var (
	// ErrInvalidCredentials means the email/password pair was rejected.
	// Terminal; the user must re-enter credentials.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrSessionExpired means the refresh credential itself was rejected
	// and a full re-login is required.
	ErrSessionExpired = errors.New("session expired")
)

// Client talks to the vendor cloud REST API
type Client struct {
	baseURL  string
	email    string
	password string
	http     *http.Client
}

// NewClient creates a cloud API client
func NewClient(cfg config.CloudConfig, account config.AccountConfig) *Client {
	return &Client{
		baseURL:  cfg.BaseURL,
		email:    account.Email,
		password: account.Password,
		http: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
	}
}

// authResponse is the session record both auth endpoints return
type authResponse struct {
	AccessToken   string   `json:"accessToken"`
	AccessExpire  int64    `json:"accessExpire"`
	RefreshAfter  int64    `json:"refreshAfter"`
	RefreshToken  string   `json:"refreshToken"`
	RefreshExpire int64    `json:"refreshExpire"`
	CustomerID    int64    `json:"customerId"`
	UserID        int64    `json:"userId"`
	Roles         []string `json:"roles"`
	Error         string   `json:"error"`
}

// dryerRecord is a device record from the listing endpoint
type dryerRecord struct {
	ID         int64  `json:"id"`
	CustomerID int64  `json:"customer_id"`
	Serial     string `json:"serial"`
	CPUSerial  string `json:"cpuSerial"`
	Firmware   string `json:"firmware"`
	Hardware   string `json:"hardware"`
	Model      string `json:"model"`
	DryerName  string `json:"dryer_name"`
	Shelves    int    `json:"shelves"`
	Status     string `json:"status"`
}

// Login exchanges the account credentials for a session
func (c *Client) Login(ctx context.Context) (*models.Session, error) {
	body, err := json.Marshal(map[string]interface{}{
		"username":   c.email,
		"password":   c.password,
		"rememberme": true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/v1", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrInvalidCredentials
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login failed: %s", readError(resp))
	}

	var auth authResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	if auth.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, auth.Error)
	}

	log.Debug().Int64("customerId", auth.CustomerID).Msg("Logged in")
	return c.toSession(&auth), nil
}

// Refresh exchanges a refresh token for a new session. The refresh token
// travels as a bearer credential, not in the body.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*models.Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/v1/refresh-token", nil)
	if err != nil {
		return nil, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+refreshToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrSessionExpired
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("refresh failed: %s", readError(resp))
	}

	var auth authResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return nil, fmt.Errorf("decode refresh response: %w", err)
	}
	if auth.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrSessionExpired, auth.Error)
	}

	log.Debug().Int64("customerId", auth.CustomerID).Msg("Session refreshed")
	return c.toSession(&auth), nil
}

// ListDryers fetches the registered freeze dryers for the account
func (c *Client) ListDryers(ctx context.Context, accessToken string) ([]models.Device, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/freeze-dryer/v1", nil)
	if err != nil {
		return nil, fmt.Errorf("build listing request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrSessionExpired
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing failed: %s", readError(resp))
	}

	var records []dryerRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode listing response: %w", err)
	}

	devices := make([]models.Device, 0, len(records))
	now := time.Now()
	for _, rec := range records {
		devices = append(devices, models.Device{
			ID:         rec.ID,
			CustomerID: rec.CustomerID,
			Serial:     rec.Serial,
			CPUSerial:  rec.CPUSerial,
			Firmware:   rec.Firmware,
			Hardware:   rec.Hardware,
			Model:      rec.Model,
			Name:       rec.DryerName,
			Shelves:    rec.Shelves,
			ListedAt:   now,
		})
	}
	return devices, nil
}

func (c *Client) toSession(auth *authResponse) *models.Session {
	return &models.Session{
		Email:            c.email,
		AccessToken:      auth.AccessToken,
		AccessExpiresAt:  time.Unix(auth.AccessExpire, 0),
		RefreshAfter:     time.Unix(auth.RefreshAfter, 0),
		RefreshToken:     auth.RefreshToken,
		RefreshExpiresAt: time.Unix(auth.RefreshExpire, 0),
		CustomerID:       auth.CustomerID,
		UserID:           auth.UserID,
		Roles:            auth.Roles,
	}
}

func readError(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Sprintf("status %d: %s", resp.StatusCode, bytes.TrimSpace(b))
}
