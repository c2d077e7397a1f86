package bluesky_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/g-sync/gsync/internal/bluesky"
)

const (
	createSessionPath = "/xrpc/com.atproto.server.createSession"
	searchActorsPath  = "/xrpc/app.bsky.actor.searchActors"
	resolveHandlePath = "/xrpc/com.atproto.identity.resolveHandle"
	createRecordPath  = "/xrpc/com.atproto.repo.createRecord"

	testIdentifier = "reviewer.bsky.social"
	testPassword   = "app-password"
	testAccessJWT  = "token-123"
	testSessionDID = "did:plc:reviewer"
	testSubjectDID = "did:plc:subject"
)

func newSessionHandler(t *testing.T) http.HandlerFunc {
	t.Helper()
	return func(responseWriter http.ResponseWriter, request *http.Request) {
		var payload struct {
			Identifier string `json:"identifier"`
			Password   string `json:"password"`
		}
		if err := json.NewDecoder(request.Body).Decode(&payload); err != nil {
			t.Fatalf("decode session request: %v", err)
		}
		if payload.Identifier != testIdentifier || payload.Password != testPassword {
			responseWriter.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(responseWriter).Encode(map[string]string{"error": "AuthenticationRequired", "message": "Invalid identifier or password"})
			return
		}
		json.NewEncoder(responseWriter).Encode(map[string]string{"accessJwt": testAccessJWT, "did": testSessionDID, "handle": testIdentifier})
	}
}

func newAuthenticatedClient(t *testing.T, mux *http.ServeMux) *bluesky.Client {
	t.Helper()
	mux.HandleFunc(createSessionPath, newSessionHandler(t))
	testServer := httptest.NewServer(mux)
	t.Cleanup(testServer.Close)

	client, err := bluesky.NewClient(bluesky.Config{ServiceURL: testServer.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Login(context.Background(), testIdentifier, testPassword); err != nil {
		t.Fatalf("login: %v", err)
	}
	return client
}

func TestLoginFailureLeavesClientLoggedOut(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(createSessionPath, newSessionHandler(t))
	testServer := httptest.NewServer(mux)
	t.Cleanup(testServer.Close)

	client, err := bluesky.NewClient(bluesky.Config{ServiceURL: testServer.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	loginErr := client.Login(context.Background(), testIdentifier, "wrong-password")
	if loginErr == nil {
		t.Fatalf("expected login failure")
	}
	var apiError *bluesky.APIError
	if !errors.As(loginErr, &apiError) {
		t.Fatalf("expected APIError, got %T", loginErr)
	}
	if apiError.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", apiError.StatusCode)
	}
	if client.Authenticated() {
		t.Fatalf("expected client to stay logged out")
	}
}

func TestSearchActorsRequiresAuthentication(t *testing.T) {
	client, err := bluesky.NewClient(bluesky.Config{ServiceURL: "http://127.0.0.1:0"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, searchErr := client.SearchActors(context.Background(), "somebody")
	if !errors.Is(searchErr, bluesky.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", searchErr)
	}
}

func TestSearchActorsReturnsCandidates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(searchActorsPath, func(responseWriter http.ResponseWriter, request *http.Request) {
		if request.Header.Get("Authorization") != "Bearer "+testAccessJWT {
			t.Fatalf("missing bearer token on search request")
		}
		if request.URL.Query().Get("q") != `"Some Body"` {
			t.Fatalf("unexpected query: %s", request.URL.Query().Get("q"))
		}
		json.NewEncoder(responseWriter).Encode(map[string]any{
			"actors": []map[string]string{
				{"did": "did:plc:one", "handle": "one.bsky.social", "displayName": "Some Body"},
				{"did": "did:plc:two", "handle": "two.bsky.social"},
			},
		})
	})
	client := newAuthenticatedClient(t, mux)

	candidates, err := client.SearchActors(context.Background(), `"Some Body"`)
	if err != nil {
		t.Fatalf("search actors: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0].DID != "did:plc:one" {
		t.Fatalf("unexpected first candidate: %+v", candidates[0])
	}
}

func TestSearchActorsEmptyResultIsNotAnError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(searchActorsPath, func(responseWriter http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(responseWriter).Encode(map[string]any{"actors": nil})
	})
	client := newAuthenticatedClient(t, mux)

	candidates, err := client.SearchActors(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("search actors: %v", err)
	}
	if candidates == nil || len(candidates) != 0 {
		t.Fatalf("expected empty slice, got %#v", candidates)
	}
}

func TestResolveHandleCachesLookups(t *testing.T) {
	var lookupCount atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc(resolveHandlePath, func(responseWriter http.ResponseWriter, request *http.Request) {
		lookupCount.Add(1)
		if request.URL.Query().Get("handle") != "alice.bsky.social" {
			t.Fatalf("unexpected handle: %s", request.URL.Query().Get("handle"))
		}
		json.NewEncoder(responseWriter).Encode(map[string]string{"did": "did:plc:alice"})
	})
	client := newAuthenticatedClient(t, mux)

	for attempt := 0; attempt < 3; attempt++ {
		resolvedDID, err := client.ResolveHandle(context.Background(), "alice.bsky.social")
		if err != nil {
			t.Fatalf("resolve handle: %v", err)
		}
		if resolvedDID != "did:plc:alice" {
			t.Fatalf("unexpected did: %s", resolvedDID)
		}
	}
	if lookupCount.Load() != 1 {
		t.Fatalf("expected 1 lookup, got %d", lookupCount.Load())
	}
}

func TestFollowSendsFollowRecord(t *testing.T) {
	var captured struct {
		Repo       string `json:"repo"`
		Collection string `json:"collection"`
		Record     struct {
			Type      string `json:"$type"`
			Subject   string `json:"subject"`
			CreatedAt string `json:"createdAt"`
		} `json:"record"`
	}
	mux := http.NewServeMux()
	mux.HandleFunc(createRecordPath, func(responseWriter http.ResponseWriter, request *http.Request) {
		if err := json.NewDecoder(request.Body).Decode(&captured); err != nil {
			t.Fatalf("decode follow request: %v", err)
		}
		json.NewEncoder(responseWriter).Encode(map[string]string{"uri": "at://x", "cid": "y"})
	})
	client := newAuthenticatedClient(t, mux)

	if err := client.Follow(context.Background(), testSubjectDID); err != nil {
		t.Fatalf("follow: %v", err)
	}
	if captured.Repo != testSessionDID {
		t.Fatalf("expected repo %s, got %s", testSessionDID, captured.Repo)
	}
	if captured.Collection != "app.bsky.graph.follow" || captured.Record.Type != "app.bsky.graph.follow" {
		t.Fatalf("unexpected collection or record type: %+v", captured)
	}
	if captured.Record.Subject != testSubjectDID {
		t.Fatalf("expected subject %s, got %s", testSubjectDID, captured.Record.Subject)
	}
	if captured.Record.CreatedAt == "" {
		t.Fatalf("expected createdAt to be set")
	}
}

func TestDoJSONRetriesTransientServerErrors(t *testing.T) {
	var attemptCount atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc(resolveHandlePath, func(responseWriter http.ResponseWriter, _ *http.Request) {
		if attemptCount.Add(1) == 1 {
			responseWriter.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(responseWriter).Encode(map[string]string{"did": "did:plc:retry"})
	})
	client := newAuthenticatedClient(t, mux)

	resolvedDID, err := client.ResolveHandle(context.Background(), "retry.bsky.social")
	if err != nil {
		t.Fatalf("resolve handle: %v", err)
	}
	if resolvedDID != "did:plc:retry" {
		t.Fatalf("unexpected did: %s", resolvedDID)
	}
	if attemptCount.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", attemptCount.Load())
	}
}
