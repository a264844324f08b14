package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"csmbot/domain/entities"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

const maxResponseBytes = 1 << 20

// BattleMetricsClient queries game servers from the BattleMetrics API
type BattleMetricsClient struct {
	http    *http.Client
	baseURL string
	token   string

	maxRetries      uint64
	initialInterval time.Duration
}

// NewBattleMetricsClient creates a client for baseURL; token may be empty for anonymous access
func NewBattleMetricsClient(baseURL, token string) *BattleMetricsClient {
	return &BattleMetricsClient{
		http:            &http.Client{Timeout: 10 * time.Second},
		baseURL:         baseURL,
		token:           token,
		maxRetries:      3,
		initialInterval: 500 * time.Millisecond,
	}
}

type serverResponse struct {
	Data *struct {
		ID         string `json:"id"`
		Attributes struct {
			Name       string `json:"name"`
			Players    int    `json:"players"`
			MaxPlayers int    `json:"maxPlayers"`
		} `json:"attributes"`
		Relationships struct {
			Game struct {
				Data struct {
					ID string `json:"id"`
				} `json:"data"`
			} `json:"game"`
		} `json:"relationships"`
	} `json:"data"`
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// GetServer fetches the current snapshot of one server.
// Transport failures, 429 and 5xx responses are retried with exponential backoff.
func (c *BattleMetricsClient) GetServer(ctx context.Context, serverID int64) (*entities.ServerInfo, error) {
	var info *entities.ServerInfo

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialInterval
	policy.MaxElapsedTime = 0

	operation := func() error {
		var err error
		info, err = c.fetchServer(ctx, serverID)
		return err
	}

	notify := func(err error, wait time.Duration) {
		log.WithFields(log.Fields{
			"server_id": serverID,
			"wait":      wait,
		}).WithError(err).Debug("Retrying server query")
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx), notify)
	if err != nil {
		if errors.Is(err, entities.ErrValidation) || errors.Is(err, entities.ErrExternalService) {
			return nil, err
		}
		// Context expiry ends the retries without a classified error
		return nil, fmt.Errorf("%w: server %d: %v", entities.ErrExternalService, serverID, err)
	}
	return info, nil
}

// fetchServer performs one request. Errors wrapped in backoff.Permanent are not retried.
func (c *BattleMetricsClient) fetchServer(ctx context.Context, serverID int64) (*entities.ServerInfo, error) {
	url := c.baseURL + "/servers/" + strconv.FormatInt(serverID, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: failed to build request: %v", entities.ErrExternalService, err))
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(fmt.Errorf("%w: server %d: %v", entities.ErrExternalService, serverID, ctx.Err()))
		}
		return nil, fmt.Errorf("%w: server %d: %v", entities.ErrExternalService, serverID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response for server %d: %v", entities.ErrExternalService, serverID, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: server %d: status %d", entities.ErrExternalService, serverID, resp.StatusCode)
	}

	var payload serverResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: undecodable response for server %d (status %d): %v",
			entities.ErrExternalService, serverID, resp.StatusCode, err))
	}

	if len(payload.Errors) > 0 {
		return nil, backoff.Permanent(fmt.Errorf("%w: server %d rejected: %s",
			entities.ErrValidation, serverID, payload.Errors[0].Detail))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, backoff.Permanent(fmt.Errorf("%w: server %d: status %d", entities.ErrExternalService, serverID, resp.StatusCode))
	}
	if payload.Data == nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: server %d: response carries no data", entities.ErrValidation, serverID))
	}

	return &entities.ServerInfo{
		ID:         serverID,
		Name:       payload.Data.Attributes.Name,
		GameID:     payload.Data.Relationships.Game.Data.ID,
		Players:    payload.Data.Attributes.Players,
		MaxPlayers: payload.Data.Attributes.MaxPlayers,
	}, nil
}
