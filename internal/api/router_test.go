package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bonafide-ptnguyen/Mealathon/internal/app"
	"github.com/bonafide-ptnguyen/Mealathon/internal/domain"
	"github.com/bonafide-ptnguyen/Mealathon/internal/store"
	"github.com/golang-jwt/jwt/v5"
)

const testKID = "test-key"

type testAPI struct {
	server  *httptest.Server
	key     *rsa.PrivateKey
	fetches *atomic.Int32
	service *app.Service
}

func newJWKSServer(t *testing.T, key *rsa.PrivateKey) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	fetches := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{{
				"kid": testKID,
				"kty": "RSA",
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, fetches
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwks, fetches := newJWKSServer(t, key)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := app.NewService(store.NewMemoryRepository(), nil, logger, app.Options{})
	handlers := NewHandlers(service, logger)
	router := NewRouter(handlers, RouterOptions{
		Auth:           AuthMiddleware(NewJWKSCache(jwks.URL, time.Minute), "mealathon", ""),
		InternalAPIKey: "internal-secret",
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testAPI{server: srv, key: key, fetches: fetches, service: service}
}

func (a *testAPI) token(t *testing.T, subject, audience string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": subject,
		"aud": audience,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	tok.Header["kid"] = testKID
	signed, err := tok.SignedString(a.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (a *testAPI) do(t *testing.T, method, path, token string, body interface{}, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(resp.Body)
	return resp, payload
}

func (a *testAPI) createCampaign(t *testing.T, provider, target string) domain.CampaignView {
	t.Helper()
	resp, body := a.do(t, http.MethodPost, "/campaigns", a.token(t, provider, "mealathon"), map[string]interface{}{
		"campaign_name":   "Weekend meals",
		"restaurant_name": "Corner Bistro",
		"target_amount":   target,
		"cost_per_meal":   "10",
		"end_date":        time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 creating campaign, got %d: %s", resp.StatusCode, body)
	}
	var view domain.CampaignView
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatalf("decode campaign: %v", err)
	}
	return view
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	resp, body := api.do(t, http.MethodGet, "/health", "", nil, nil)
	if resp.StatusCode != http.StatusOK || string(body) != "healthy" {
		t.Fatalf("unexpected health response %d %q", resp.StatusCode, body)
	}
}

func TestAuthMiddleware_RejectsBadTokens(t *testing.T) {
	api := newTestAPI(t)

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	forged := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "donor_a", "aud": "mealathon", "exp": time.Now().Add(time.Hour).Unix()})
	forged.Header["kid"] = testKID
	forgedToken, _ := forged.SignedString(other)

	tests := []struct {
		name  string
		token string
	}{
		{name: "missing", token: ""},
		{name: "wrong audience", token: api.token(t, "donor_a", "someone-else")},
		{name: "wrong signature", token: forgedToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := api.do(t, http.MethodGet, "/me/donations", tt.token, nil, nil)
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", resp.StatusCode)
			}
		})
	}
}

func TestDonationFlow(t *testing.T) {
	api := newTestAPI(t)
	campaign := api.createCampaign(t, "provider_1", "100")
	donor := api.token(t, "donor_a", "mealathon")
	path := "/campaigns/" + campaign.ID.String() + "/donations"

	resp, body := api.do(t, http.MethodPost, path, donor, map[string]string{"amount": "25.00", "donor_name": "Ada"},
		map[string]string{"Idempotency-Key": "checkout-1"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, body)
	}
	var first domain.RecordDonationResponse
	if err := json.Unmarshal(body, &first); err != nil {
		t.Fatalf("decode donation: %v", err)
	}

	resp, body = api.do(t, http.MethodPost, path, donor, map[string]string{"amount": "25.00", "donor_name": "Ada"},
		map[string]string{"Idempotency-Key": "checkout-1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for replay, got %d: %s", resp.StatusCode, body)
	}
	var replay domain.RecordDonationResponse
	if err := json.Unmarshal(body, &replay); err != nil {
		t.Fatalf("decode replay: %v", err)
	}
	if !replay.Replayed || replay.Donation.ID != first.Donation.ID {
		t.Fatalf("expected replay of %s, got %+v", first.Donation.ID, replay)
	}

	resp, _ = api.do(t, http.MethodPost, path, donor, map[string]string{"amount": "30.00"},
		map[string]string{"Idempotency-Key": "checkout-1"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for reused key, got %d", resp.StatusCode)
	}

	resp, body = api.do(t, http.MethodPost, path, donor, map[string]string{"amount": "-5"},
		map[string]string{"Idempotency-Key": "checkout-2"})
	if resp.StatusCode != http.StatusBadRequest || !strings.Contains(string(body), "amount") {
		t.Fatalf("expected 400 on amount, got %d: %s", resp.StatusCode, body)
	}

	resp, body = api.do(t, http.MethodGet, "/campaigns/"+campaign.ID.String(), "", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var view domain.CampaignView
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatalf("decode campaign: %v", err)
	}
	if view.TotalDonations.StringFixed(2) != "25.00" || view.MealsPossible != 2 {
		t.Fatalf("expected total 25.00 and 2 meals, got %s and %d", view.TotalDonations.StringFixed(2), view.MealsPossible)
	}

	resp, body = api.do(t, http.MethodGet, "/me/donations", donor, nil, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "Weekend meals") {
		t.Fatalf("expected donor dashboard with campaign name, got %d: %s", resp.StatusCode, body)
	}

	resp, body = api.do(t, http.MethodGet, "/leaderboard/donors", "", nil, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"badge":"gold"`) {
		t.Fatalf("expected donor leaderboard, got %d: %s", resp.StatusCode, body)
	}

	if api.fetches.Load() != 1 {
		t.Fatalf("expected JWKS fetched once, got %d", api.fetches.Load())
	}
}

func TestDistributionUpdateRequiresOwner(t *testing.T) {
	api := newTestAPI(t)
	campaign := api.createCampaign(t, "provider_1", "100")
	path := "/campaigns/" + campaign.ID.String() + "/updates"
	update := map[string]interface{}{"message": "Served lunch", "image_refs": []string{"img-1"}}

	resp, _ := api.do(t, http.MethodPost, path, api.token(t, "provider_2", "mealathon"), update, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	resp, body := api.do(t, http.MethodPost, path, api.token(t, "provider_1", "mealathon"), update, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, body)
	}

	resp, body = api.do(t, http.MethodGet, "/me/campaigns", api.token(t, "provider_1", "mealathon"), nil, nil)
	var mine []domain.CampaignView
	if err := json.Unmarshal(body, &mine); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("provider dashboard: %d %v", resp.StatusCode, err)
	}
	if len(mine) != 1 || len(mine[0].DistributionUpdates) != 1 {
		t.Fatalf("expected one campaign with one update, got %+v", mine)
	}
}

func TestInternalRoutesRequireKey(t *testing.T) {
	api := newTestAPI(t)

	resp, _ := api.do(t, http.MethodPost, "/internal/sweep", "", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", resp.StatusCode)
	}

	campaign := api.createCampaign(t, "provider_1", "500")
	later := time.Now().Add(2 * time.Hour).UTC()
	resp, body := api.do(t, http.MethodPost, "/internal/sweep", "", map[string]interface{}{"now": later},
		map[string]string{"X-Internal-API-Key": "internal-secret"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 sweep, got %d: %s", resp.StatusCode, body)
	}
	var result domain.SweepResult
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("decode sweep: %v", err)
	}
	if len(result.Failed) != 1 || result.Failed[0] != campaign.ID {
		t.Fatalf("expected %s to fail, got %+v", campaign.ID, result)
	}

	resp, body = api.do(t, http.MethodPost, "/internal/campaigns/"+campaign.ID.String()+"/refunds", "", nil,
		map[string]string{"X-Internal-API-Key": "internal-secret"})
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"completed":true`) {
		t.Fatalf("expected completed refund report, got %d: %s", resp.StatusCode, body)
	}

	resp, _ = api.do(t, http.MethodPost, "/internal/campaigns/not-a-uuid/refunds", "", nil,
		map[string]string{"X-Internal-API-Key": "internal-secret"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", resp.StatusCode)
	}
}

func TestWriteServiceErrorMapping(t *testing.T) {
	h := NewHandlers(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	tests := []struct {
		name       string
		err        error
		want       int
		retryAfter string
	}{
		{name: "validation", err: domain.NewValidationError("amount", "must be positive"), want: http.StatusBadRequest},
		{name: "not found", err: store.ErrCampaignNotFound, want: http.StatusNotFound},
		{name: "invalid state", err: domain.ErrInvalidState, want: http.StatusConflict},
		{name: "forbidden", err: domain.ErrForbidden, want: http.StatusForbidden},
		{name: "rate limited", err: domain.ErrRateLimited, want: http.StatusTooManyRequests},
		{name: "rate limited with retry", err: fmt.Errorf("record donation: %w", &domain.RateLimitError{DonorID: "donor_a", Limit: 5, RetryAfter: 1500 * time.Millisecond}), want: http.StatusTooManyRequests, retryAfter: "2"},
		{name: "store unavailable", err: domain.ErrStoreUnavailable, want: http.StatusServiceUnavailable},
		{name: "unexpected", err: context.Canceled, want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.writeServiceError(rec, "test", tt.err)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
			if got := rec.Header().Get("Retry-After"); got != tt.retryAfter {
				t.Fatalf("expected Retry-After %q, got %q", tt.retryAfter, got)
			}
		})
	}
}
