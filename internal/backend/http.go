// HTTP implementations of the durable backend collaborators, speaking the
// hosted chats API: bearer-token auth obtained from a service-account login,
// POST /chats/dump for batch persistence, GET /chats/get-messages for
// hydration.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantumsenses/go-deploy-cache/internal/domain"
)

// HTTPCredentialProvider logs in with a service account and returns the
// issued token pair. Every call performs a fresh login; tokens are never
// cached here.
type HTTPCredentialProvider struct {
	BaseURL  string
	Username string
	Password string
	Client   *http.Client
}

// NewHTTPCredentialProvider builds a provider for the service account.
func NewHTTPCredentialProvider(baseURL, username, password string) *HTTPCredentialProvider {
	return &HTTPCredentialProvider{
		BaseURL:  baseURL,
		Username: username,
		Password: password,
		Client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Obtain performs the login and returns the token pair.
func (p *HTTPCredentialProvider) Obtain(ctx context.Context) (Credential, error) {
	payload, _ := json.Marshal(map[string]string{
		"username": p.Username,
		"password": p.Password,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/login", bytes.NewReader(payload))
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrBackendFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: login: %v", ErrBackendFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Credential{}, fmt.Errorf("%w: login status %d: %s", ErrBackendFailure, resp.StatusCode, body)
	}

	var out struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Credential{}, fmt.Errorf("%w: decode login response: %v", ErrBackendFailure, err)
	}
	return Credential{Access: out.Access, Refresh: out.Refresh}, nil
}

// HTTPBackend talks to the hosted chats API.
type HTTPBackend struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPBackend builds an HTTPBackend for the given API base URL.
func NewHTTPBackend(baseURL string) *HTTPBackend {
	return &HTTPBackend{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// dumpPayload is the batch-persist body: the owner whose data is being
// flushed (not the service account), the topic, and its turns.
type dumpPayload struct {
	Username string        `json:"username"`
	Topic    string        `json:"topic"`
	Data     []domain.Turn `json:"data"`
}

// PersistBatch POSTs one topic's turns to /chats/dump.
func (b *HTTPBackend) PersistBatch(ctx context.Context, owner, topic string, turns []domain.Turn, cred Credential) error {
	payload, err := json.Marshal(dumpPayload{Username: owner, Topic: topic, Data: turns})
	if err != nil {
		return fmt.Errorf("%w: encode dump payload: %v", ErrBackendFailure, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.BaseURL+"/chats/dump", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.Access)

	resp, err := b.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: dump: %v", ErrBackendFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		log.Warn().
			Int("status", resp.StatusCode).
			Str("owner", owner).
			Str("topic", topic).
			Msg("chat dump rejected")
		return fmt.Errorf("%w: dump status %d: %s", ErrBackendFailure, resp.StatusCode, body)
	}
	return nil
}

// FetchMessages GETs the full conversation for hydration. The response is a
// plain array of {assistant, user} objects.
func (b *HTTPBackend) FetchMessages(ctx context.Context, owner, topic string, cred Credential) ([]domain.ChatMessage, error) {
	endpoint := fmt.Sprintf("%s/chats/get-messages/%s/%s",
		b.BaseURL, url.PathEscape(owner), url.PathEscape(topic))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendFailure, err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.Access)

	resp, err := b.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch: %v", ErrBackendFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("%w: fetch status %d: %s", ErrBackendFailure, resp.StatusCode, body)
	}

	var items []struct {
		Assistant string `json:"assistant"`
		User      string `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("%w: decode messages: %v", ErrBackendFailure, err)
	}

	out := make([]domain.ChatMessage, len(items))
	for i, it := range items {
		out[i] = domain.ChatMessage{Assistant: it.Assistant, User: it.User}
	}
	return out, nil
}

// CreateContainer POSTs a provisioned container's coordinates to
// /container/create.
func (b *HTTPBackend) CreateContainer(ctx context.Context, owner, name, url, host string, cred Credential) error {
	payload, _ := json.Marshal(map[string]string{
		"name":       name,
		"url":        url,
		"ip_address": host,
	})
	return b.post(ctx, "/container/create", payload, cred)
}

// WriteSpecs POSTs the completed staging record to /container/set-specs.
// The API takes the stack and resources as pre-formatted display strings.
func (b *HTTPBackend) WriteSpecs(ctx context.Context, containerName string, rec domain.StagingRecord, cred Credential) error {
	payload, _ := json.Marshal(map[string]string{
		"container_name": containerName,
		"stack":          fmt.Sprintf("frontend: %s, backend: %s, database: %s", rec.Frontend, rec.Backend, rec.DB),
		"resources":      fmt.Sprintf("ram: %sGB, mem: %sGB, cpu: %s", rec.RAM, rec.Mem, rec.CPU),
	})
	return b.post(ctx, "/container/set-specs", payload, cred)
}

func (b *HTTPBackend) post(ctx context.Context, path string, payload []byte, cred Credential) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.Access)

	resp, err := b.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBackendFailure, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%w: %s status %d: %s", ErrBackendFailure, path, resp.StatusCode, body)
	}
	return nil
}
