package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/g-sync/gsync/internal/records"
)

const (
	defaultBaseURLString      = "https://api.github.com"
	followingPathFormat       = "/user/following?per_page=%d&page=%d"
	socialAccountsPathFormat  = "/users/%s/social_accounts"
	acceptHeaderName          = "Accept"
	acceptHeaderValue         = "application/vnd.github+json"
	authorizationHeaderName   = "Authorization"
	bearerTokenPrefix         = "Bearer "
	apiVersionHeaderName      = "X-GitHub-Api-Version"
	apiVersionHeaderValue     = "2022-11-28"
	targetProviderName        = "bluesky"
	followingPageSize         = 100
	maxResponseBodyBytes      = 4 << 20
	defaultHTTPTimeout        = 30 * time.Second
	defaultEnrichConcurrency  = 8
	errMessageMissingToken    = "a github token is required"
	errMessageNobodyFollowed  = "the authenticated user is not following anyone"
	apiStatusErrorFormat      = "github api GET %s: status %d: %s"
	parseBaseURLErrorFormat   = "parse base url: %w"
	listFollowingErrorFormat  = "list following page %d: %w"
	socialAccountsErrorFormat = "social accounts for %s: %w"
)

var (
	// ErrMissingToken indicates a client constructed without credentials.
	ErrMissingToken = errors.New(errMessageMissingToken)
	// ErrEmptyFollowing indicates the authenticated user follows nobody.
	ErrEmptyFollowing = errors.New(errMessageNobodyFollowed)
)

// Config customizes a Client instance.
type Config struct {
	Token             string
	BaseURL           string
	HTTPClient        *http.Client
	EnrichConcurrency int
}

// Client lists the accounts the authenticated user follows on GitHub and
// enriches each with its declared Bluesky social account, when present.
type Client struct {
	httpClient        *http.Client
	baseURL           *url.URL
	token             string
	enrichConcurrency int
}

// NewClient constructs a Client from configuration values.
func NewClient(configuration Config) (*Client, error) {
	if strings.TrimSpace(configuration.Token) == "" {
		return nil, ErrMissingToken
	}
	baseURLString := configuration.BaseURL
	if strings.TrimSpace(baseURLString) == "" {
		baseURLString = defaultBaseURLString
	}
	parsedBaseURL, parseErr := url.Parse(baseURLString)
	if parseErr != nil {
		return nil, fmt.Errorf(parseBaseURLErrorFormat, parseErr)
	}
	httpClient := configuration.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	enrichConcurrency := configuration.EnrichConcurrency
	if enrichConcurrency <= 0 {
		enrichConcurrency = defaultEnrichConcurrency
	}
	return &Client{
		httpClient:        httpClient,
		baseURL:           parsedBaseURL,
		token:             configuration.Token,
		enrichConcurrency: enrichConcurrency,
	}, nil
}

// FollowedUser is one entry of the following listing.
type FollowedUser struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
}

// SocialAccount is a social account declared on a GitHub profile.
type SocialAccount struct {
	Provider string `json:"provider"`
	URL      string `json:"url"`
}

// ListFollowing fetches every account the authenticated user follows,
// walking pages until a short page ends the listing.
func (client *Client) ListFollowing(ctx context.Context) ([]FollowedUser, error) {
	var allUsers []FollowedUser
	for pageNumber := 1; ; pageNumber++ {
		var pageUsers []FollowedUser
		path := fmt.Sprintf(followingPathFormat, followingPageSize, pageNumber)
		if callErr := client.getJSON(ctx, path, &pageUsers); callErr != nil {
			return nil, fmt.Errorf(listFollowingErrorFormat, pageNumber, callErr)
		}
		allUsers = append(allUsers, pageUsers...)
		if len(pageUsers) < followingPageSize {
			break
		}
	}
	return allUsers, nil
}

// SocialAccounts fetches the declared social accounts for a login.
func (client *Client) SocialAccounts(ctx context.Context, login string) ([]SocialAccount, error) {
	var accounts []SocialAccount
	path := fmt.Sprintf(socialAccountsPathFormat, url.PathEscape(login))
	if callErr := client.getJSON(ctx, path, &accounts); callErr != nil {
		return nil, fmt.Errorf(socialAccountsErrorFormat, login, callErr)
	}
	return accounts, nil
}

// ExportFollowing lists the followed accounts and enriches them with their
// Bluesky links using a bounded fan-out. A failed enrichment leaves the
// record without a link rather than failing the export.
func (client *Client) ExportFollowing(ctx context.Context) ([]records.AccountRecord, error) {
	followedUsers, listErr := client.ListFollowing(ctx)
	if listErr != nil {
		return nil, listErr
	}
	if len(followedUsers) == 0 {
		return nil, ErrEmptyFollowing
	}

	accountRecords := make([]records.AccountRecord, len(followedUsers))
	var group errgroup.Group
	group.SetLimit(client.enrichConcurrency)
	for userIndex, followed := range followedUsers {
		userIndex := userIndex
		followed := followed
		group.Go(func() error {
			record := records.AccountRecord{Login: followed.Login, Avatar: followed.AvatarURL}
			accounts, accountsErr := client.SocialAccounts(ctx, followed.Login)
			if accountsErr == nil {
				for _, account := range accounts {
					if strings.EqualFold(account.Provider, targetProviderName) {
						record.TargetProfileURL = account.URL
						break
					}
				}
			}
			accountRecords[userIndex] = record
			return nil
		})
	}
	_ = group.Wait()

	records.SortRecords(accountRecords)
	return accountRecords, nil
}

func (client *Client) getJSON(ctx context.Context, path string, target any) error {
	requestURL := strings.TrimRight(client.baseURL.String(), "/") + path
	httpRequest, requestErr := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if requestErr != nil {
		return requestErr
	}
	httpRequest.Header.Set(authorizationHeaderName, bearerTokenPrefix+client.token)
	httpRequest.Header.Set(acceptHeaderName, acceptHeaderValue)
	httpRequest.Header.Set(apiVersionHeaderName, apiVersionHeaderValue)

	httpResponse, doErr := client.httpClient.Do(httpRequest)
	if doErr != nil {
		return doErr
	}
	defer httpResponse.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(httpResponse.Body, maxResponseBodyBytes))
	if readErr != nil {
		return readErr
	}
	if httpResponse.StatusCode/100 != 2 {
		return fmt.Errorf(apiStatusErrorFormat, path, httpResponse.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, target)
}
