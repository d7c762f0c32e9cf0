// Package ongage is the adapter for the remote contact-list provider. The
// remote store is the source of truth for list membership; everything local
// (ledger, cache) is derived from it.
//
// All mutations are idempotent from the caller's perspective: adding an
// existing member or removing a non-member reports success, so every
// operation is safe to retry after partial failure.
package ongage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ignite/list-rotator/internal/domain"
	"github.com/ignite/list-rotator/internal/pkg/retry"
)

// Client is the Ongage API client implementing the remote list store surface.
type Client struct {
	baseURL     string
	username    string
	password    string
	accountCode string
	listIDs     map[domain.ListHandle]string
	httpClient  retry.HTTPDoer
	limiter     Limiter
}

// Limiter gates outbound provider calls. Wait blocks until a call slot is
// available or ctx is done.
type Limiter interface {
	Wait(ctx context.Context) error
}

// NewClient creates a new Ongage API client. limiter may be nil, disabling
// rate limiting (tests only).
func NewClient(cfg Config, limiter Limiter) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		username:    cfg.Username,
		password:    cfg.Password,
		accountCode: cfg.AccountCode,
		listIDs:     cfg.ListIDs,
		limiter:     limiter,
		httpClient:  retry.NewHTTPClient(&http.Client{Timeout: timeout}, retry.Policy{}),
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing).
func (c *Client) SetHTTPClient(client retry.HTTPDoer) {
	c.httpClient = client
}

func (c *Client) remoteID(list domain.ListHandle) (string, error) {
	id, ok := c.listIDs[list]
	if !ok || id == "" {
		return "", domain.Permanent("resolve list", fmt.Errorf("no remote id configured for list %q", list))
	}
	return id, nil
}

// doRequest performs an authenticated request to the Ongage API. Non-2xx
// responses are classified: 429/5xx transient, other 4xx permanent.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, body interface{}) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, domain.Transient("rate limit wait", err)
		}
	}

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, domain.Permanent("marshal request", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	reqURL := fmt.Sprintf("%s%s", c.baseURL, endpoint)
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, domain.Permanent("create request", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X_USERNAME", c.username)
	req.Header.Set("X_PASSWORD", c.password)
	req.Header.Set("X_ACCOUNT_CODE", c.accountCode)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.Transient(method+" "+endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Transient("read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
		if retry.RetryableStatus(resp.StatusCode) {
			return nil, domain.Transient(method+" "+endpoint, apiErr)
		}
		return nil, domain.Permanent(method+" "+endpoint, apiErr)
	}

	return respBody, nil
}

// ========== Count ==========

// GetCount returns the current member count of a list.
func (c *Client) GetCount(ctx context.Context, list domain.ListHandle) (int, error) {
	listID, err := c.remoteID(list)
	if err != nil {
		return 0, err
	}

	endpoint := fmt.Sprintf("/api/lists/%s/count", listID)
	respBody, err := c.doRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}

	var response countResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return 0, domain.Permanent("parse count response", err)
	}
	if response.Metadata.Error {
		return 0, domain.Permanent("get count", fmt.Errorf("API returned error for list %s", list))
	}

	return response.Payload.Count, nil
}

// ========== Membership Mutations ==========

// AddMember adds a contact to a list. Adding an existing member is a no-op
// success, so retries after partial failures are safe.
func (c *Client) AddMember(ctx context.Context, list domain.ListHandle, contactID domain.ContactID) error {
	listID, err := c.remoteID(list)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("/api/lists/%s/members", listID)
	payload := map[string]interface{}{"contact_id": contactID}

	respBody, err := c.doRequest(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return err
	}

	var response mutationResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return domain.Permanent("parse add response", err)
	}
	if response.Metadata.Error && response.Metadata.Code != "already_member" {
		return domain.Permanent("add member", fmt.Errorf("API returned error adding contact %d to %s", contactID, list))
	}
	return nil
}

// RemoveMember removes a contact from a list. Removing a non-member is a
// no-op success.
func (c *Client) RemoveMember(ctx context.Context, list domain.ListHandle, contactID domain.ContactID) error {
	listID, err := c.remoteID(list)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("/api/lists/%s/members/%d", listID, contactID)
	respBody, err := c.doRequest(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		// Not-a-member surfaces as 404; that's the idempotent no-op case.
		var pe *domain.PermanentError
		if errors.As(err, &pe) && strings.Contains(pe.Error(), "status 404") {
			return nil
		}
		return err
	}

	var response mutationResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return domain.Permanent("parse remove response", err)
	}
	if response.Metadata.Error && response.Metadata.Code != "not_a_member" {
		return domain.Permanent("remove member", fmt.Errorf("API returned error removing contact %d from %s", contactID, list))
	}
	return nil
}

// ========== Member Enumeration ==========

// FetchMembers retrieves one page of list members, ordered oldest-enrolled
// first so callers can apply FIFO selection. An empty pageToken starts from
// the beginning; an empty nextPageToken marks the last page.
func (c *Client) FetchMembers(ctx context.Context, list domain.ListHandle, pageToken string) ([]Member, string, error) {
	listID, err := c.remoteID(list)
	if err != nil {
		return nil, "", err
	}

	params := url.Values{}
	params.Set("sort", "created")
	params.Set("order", "asc")
	if pageToken != "" {
		params.Set("page", pageToken)
	}
	endpoint := fmt.Sprintf("/api/lists/%s/members?%s", listID, params.Encode())

	respBody, err := c.doRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", err
	}

	var response membersResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, "", domain.Permanent("parse members response", err)
	}
	if response.Metadata.Error {
		return nil, "", domain.Permanent("fetch members", fmt.Errorf("API returned error for list %s", list))
	}

	return response.Payload.Members, response.Payload.NextPage, nil
}

// ========== Bounce Events ==========

// FetchBounceEvents retrieves delivery failures for a campaign send. Used by
// the rule-based fallback planner when the advisory service is unavailable.
func (c *Client) FetchBounceEvents(ctx context.Context, campaignID string) ([]domain.BounceEvent, error) {
	params := url.Values{}
	params.Set("mailing_id", campaignID)
	endpoint := "/api/reports/bounces?" + params.Encode()

	respBody, err := c.doRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var response bounceEventsResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, domain.Permanent("parse bounce events", err)
	}
	if response.Metadata.Error {
		return nil, domain.Permanent("fetch bounce events", fmt.Errorf("API returned error for campaign %s", campaignID))
	}

	events := make([]domain.BounceEvent, 0, len(response.Payload))
	for _, e := range response.Payload {
		events = append(events, domain.BounceEvent{
			ContactID:  e.ContactID,
			Email:      e.Email,
			Type:       bounceType(e.Type),
			Category:   e.Category,
			DSNCode:    e.DSNCode,
			OccurredAt: time.Unix(e.Timestamp, 0).UTC(),
		})
	}
	return events, nil
}

// ========== Health Check ==========

// HealthCheck verifies the provider API is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.GetCount(ctx, domain.ListMaster)
	return err
}
