package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultServiceURLString      = "https://bsky.social"
	createSessionPath            = "/xrpc/com.atproto.server.createSession"
	searchActorsPath             = "/xrpc/app.bsky.actor.searchActors"
	resolveHandlePath            = "/xrpc/com.atproto.identity.resolveHandle"
	createRecordPath             = "/xrpc/com.atproto.repo.createRecord"
	followCollectionNSID         = "app.bsky.graph.follow"
	queryParameterName           = "q"
	handleParameterName          = "handle"
	contentTypeHeaderName        = "Content-Type"
	authorizationHeaderName      = "Authorization"
	retryAfterHeaderName         = "Retry-After"
	jsonContentType              = "application/json"
	bearerTokenPrefix            = "Bearer "
	maxResponseBodyBytes         = 1 << 20
	maxRetryAttempts             = 4
	defaultDialTimeout           = 5 * time.Second
	defaultTLSHandshakeTimeout   = 5 * time.Second
	defaultResponseHeaderTimeout = 10 * time.Second
	defaultHTTPTimeout           = 30 * time.Second
	defaultRetryAfterWait        = 2 * time.Second
	retryBackoffBase             = 500 * time.Millisecond
	retryBackoffCap              = 8 * time.Second
	errMessageNotAuthenticated   = "bluesky session is not authenticated"
	errMessageEmptyQuery         = "search query cannot be empty"
	errMessageEmptyHandle        = "handle cannot be empty"
	errMessageEmptySubject       = "follow subject cannot be empty"
	apiErrorFormat               = "bluesky api %s: status %d: %s"
	parseServiceURLErrorFormat   = "parse service url: %w"
)

var (
	// ErrNotAuthenticated indicates a call that requires a logged-in session.
	ErrNotAuthenticated = errors.New(errMessageNotAuthenticated)

	errEmptyQuery   = errors.New(errMessageEmptyQuery)
	errEmptyHandle  = errors.New(errMessageEmptyHandle)
	errEmptySubject = errors.New(errMessageEmptySubject)
)

// APIError carries the status and message of a failed XRPC call.
type APIError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (apiError *APIError) Error() string {
	return fmt.Sprintf(apiErrorFormat, apiError.Endpoint, apiError.StatusCode, apiError.Message)
}

// CandidateProfile is a transient search result from the target network.
type CandidateProfile struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName,omitempty"`
	Description string `json:"description,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// Config customizes a Client instance.
type Config struct {
	ServiceURL string
	HTTPClient *http.Client
}

// Client talks to a Bluesky service over XRPC and holds the session
// credentials obtained from Login. Handle resolutions are cached and
// deduplicated so repeated follow attempts do not repeat directory lookups.
type Client struct {
	httpClient *http.Client
	serviceURL *url.URL

	sessionMutex sync.RWMutex
	accessToken  string
	sessionDID   string

	resolveCache map[string]string
	resolveMutex sync.RWMutex
	flightGroup  singleflight.Group
}

// NewClient constructs a Client with sensible HTTP defaults.
func NewClient(configuration Config) (*Client, error) {
	serviceURLString := configuration.ServiceURL
	if strings.TrimSpace(serviceURLString) == "" {
		serviceURLString = defaultServiceURLString
	}
	parsedServiceURL, parseErr := url.Parse(serviceURLString)
	if parseErr != nil {
		return nil, fmt.Errorf(parseServiceURLErrorFormat, parseErr)
	}

	httpClient := configuration.HTTPClient
	if httpClient == nil {
		httpClient = newHTTPClient()
	}
	if httpClient.Timeout == 0 {
		httpClient.Timeout = defaultHTTPTimeout
	}

	client := &Client{
		httpClient:   httpClient,
		serviceURL:   parsedServiceURL,
		resolveCache: make(map[string]string),
	}
	return client, nil
}

type createSessionRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type createSessionResponse struct {
	AccessJWT string `json:"accessJwt"`
	DID       string `json:"did"`
	Handle    string `json:"handle"`
}

// Login creates a session for the supplied credentials. On failure the
// client remains logged out.
func (client *Client) Login(ctx context.Context, identifier string, secret string) error {
	payload := createSessionRequest{Identifier: identifier, Password: secret}
	var session createSessionResponse
	if callErr := client.postJSON(ctx, createSessionPath, "", payload, &session); callErr != nil {
		return callErr
	}

	client.sessionMutex.Lock()
	client.accessToken = session.AccessJWT
	client.sessionDID = session.DID
	client.sessionMutex.Unlock()
	return nil
}

// Authenticated reports whether the client holds a session token.
func (client *Client) Authenticated() bool {
	client.sessionMutex.RLock()
	defer client.sessionMutex.RUnlock()
	return client.accessToken != ""
}

type searchActorsResponse struct {
	Actors []CandidateProfile `json:"actors"`
}

// SearchActors queries the target network's actor search. An empty result
// set is returned as an empty slice, not an error.
func (client *Client) SearchActors(ctx context.Context, query string) ([]CandidateProfile, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errEmptyQuery
	}
	token, _, tokenErr := client.sessionToken()
	if tokenErr != nil {
		return nil, tokenErr
	}

	queryValues := url.Values{}
	queryValues.Set(queryParameterName, query)
	var searchResponse searchActorsResponse
	if callErr := client.getJSON(ctx, searchActorsPath, queryValues, token, &searchResponse); callErr != nil {
		return nil, callErr
	}
	if searchResponse.Actors == nil {
		return []CandidateProfile{}, nil
	}
	return searchResponse.Actors, nil
}

type resolveHandleResponse struct {
	DID string `json:"did"`
}

// ResolveHandle resolves a handle into its canonical DID. Results are
// cached; concurrent resolutions of the same handle share one lookup.
func (client *Client) ResolveHandle(ctx context.Context, handle string) (string, error) {
	trimmedHandle := strings.TrimSpace(handle)
	if trimmedHandle == "" {
		return "", errEmptyHandle
	}
	token, _, tokenErr := client.sessionToken()
	if tokenErr != nil {
		return "", tokenErr
	}

	client.resolveMutex.RLock()
	if cachedDID, cached := client.resolveCache[trimmedHandle]; cached {
		client.resolveMutex.RUnlock()
		return cachedDID, nil
	}
	client.resolveMutex.RUnlock()

	resultChannel := client.flightGroup.DoChan(trimmedHandle, func() (interface{}, error) {
		queryValues := url.Values{}
		queryValues.Set(handleParameterName, trimmedHandle)
		var resolveResponse resolveHandleResponse
		if callErr := client.getJSON(ctx, resolveHandlePath, queryValues, token, &resolveResponse); callErr != nil {
			return "", callErr
		}
		client.resolveMutex.Lock()
		client.resolveCache[trimmedHandle] = resolveResponse.DID
		client.resolveMutex.Unlock()
		return resolveResponse.DID, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case result := <-resultChannel:
		if result.Err != nil {
			return "", result.Err
		}
		resolvedDID, _ := result.Val.(string)
		return resolvedDID, nil
	}
}

type followRecord struct {
	Type      string `json:"$type"`
	Subject   string `json:"subject"`
	CreatedAt string `json:"createdAt"`
}

type createRecordRequest struct {
	Repo       string       `json:"repo"`
	Collection string       `json:"collection"`
	Record     followRecord `json:"record"`
}

type createRecordResponse struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// Follow creates a follow record for the supplied subject DID.
func (client *Client) Follow(ctx context.Context, subjectDID string) error {
	if strings.TrimSpace(subjectDID) == "" {
		return errEmptySubject
	}
	token, sessionDID, tokenErr := client.sessionToken()
	if tokenErr != nil {
		return tokenErr
	}

	payload := createRecordRequest{
		Repo:       sessionDID,
		Collection: followCollectionNSID,
		Record: followRecord{
			Type:      followCollectionNSID,
			Subject:   subjectDID,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		},
	}
	var followResponse createRecordResponse
	return client.postJSON(ctx, createRecordPath, token, payload, &followResponse)
}

func (client *Client) sessionToken() (string, string, error) {
	client.sessionMutex.RLock()
	defer client.sessionMutex.RUnlock()
	if client.accessToken == "" {
		return "", "", ErrNotAuthenticated
	}
	return client.accessToken, client.sessionDID, nil
}

func (client *Client) getJSON(ctx context.Context, path string, queryValues url.Values, token string, target any) error {
	endpointURL := client.endpointURL(path)
	if len(queryValues) > 0 {
		endpointURL += "?" + queryValues.Encode()
	}
	httpRequest, requestErr := http.NewRequestWithContext(ctx, http.MethodGet, endpointURL, nil)
	if requestErr != nil {
		return requestErr
	}
	if token != "" {
		httpRequest.Header.Set(authorizationHeaderName, bearerTokenPrefix+token)
	}
	return client.doJSON(httpRequest, path, target)
}

func (client *Client) postJSON(ctx context.Context, path string, token string, payload any, target any) error {
	encoded, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return marshalErr
	}
	httpRequest, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, client.endpointURL(path), bytes.NewReader(encoded))
	if requestErr != nil {
		return requestErr
	}
	httpRequest.Header.Set(contentTypeHeaderName, jsonContentType)
	if token != "" {
		httpRequest.Header.Set(authorizationHeaderName, bearerTokenPrefix+token)
	}
	return client.doJSON(httpRequest, path, target)
}

type apiErrorBody struct {
	ErrorName string `json:"error"`
	Message   string `json:"message"`
}

// doJSON issues the request with retry on 429 and transient 5xx responses,
// then decodes the body into target.
func (client *Client) doJSON(httpRequest *http.Request, path string, target any) error {
	var lastErr error
	for attemptIndex := 1; attemptIndex <= maxRetryAttempts; attemptIndex++ {
		if attemptIndex > 1 && httpRequest.GetBody != nil {
			refreshedBody, bodyErr := httpRequest.GetBody()
			if bodyErr != nil {
				return bodyErr
			}
			httpRequest.Body = refreshedBody
		}

		httpResponse, doErr := client.httpClient.Do(httpRequest)
		if doErr != nil {
			lastErr = doErr
			if waitErr := waitForDuration(httpRequest.Context(), backoffDuration(attemptIndex)); waitErr != nil {
				return waitErr
			}
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(httpResponse.Body, maxResponseBodyBytes))
		httpResponse.Body.Close()
		if readErr != nil {
			return readErr
		}

		if httpResponse.StatusCode/100 == 2 {
			if target == nil || len(body) == 0 {
				return nil
			}
			return json.Unmarshal(body, target)
		}

		if httpResponse.StatusCode == http.StatusTooManyRequests {
			if waitErr := waitForDuration(httpRequest.Context(), retryAfterWait(httpResponse.Header)); waitErr != nil {
				return waitErr
			}
			lastErr = newAPIError(path, httpResponse.StatusCode, body)
			continue
		}
		if httpResponse.StatusCode/100 == 5 {
			lastErr = newAPIError(path, httpResponse.StatusCode, body)
			if waitErr := waitForDuration(httpRequest.Context(), backoffDuration(attemptIndex)); waitErr != nil {
				return waitErr
			}
			continue
		}

		return newAPIError(path, httpResponse.StatusCode, body)
	}
	return lastErr
}

func newAPIError(path string, statusCode int, body []byte) *APIError {
	var parsedBody apiErrorBody
	message := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &parsedBody) == nil && parsedBody.Message != "" {
		message = parsedBody.Message
	}
	return &APIError{Endpoint: path, StatusCode: statusCode, Message: message}
}

func retryAfterWait(headers http.Header) time.Duration {
	retryAfter := strings.TrimSpace(headers.Get(retryAfterHeaderName))
	if retryAfter == "" {
		return defaultRetryAfterWait
	}
	if seconds, parseErr := strconv.Atoi(retryAfter); parseErr == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultRetryAfterWait
}

func backoffDuration(attemptIndex int) time.Duration {
	duration := retryBackoffBase << (attemptIndex - 1)
	if duration > retryBackoffCap {
		duration = retryBackoffCap
	}
	return duration
}

func waitForDuration(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (client *Client) endpointURL(path string) string {
	return strings.TrimRight(client.serviceURL.String(), "/") + path
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: defaultHTTPTimeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: 30 * time.Second}).DialContext,
			TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConns:          100,
			MaxConnsPerHost:       100,
			ResponseHeaderTimeout: defaultResponseHeaderTimeout,
		},
	}
}
