package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mindbook/internal/config"
	"mindbook/internal/database"
	"mindbook/internal/events"
	"mindbook/internal/gateway"
	"mindbook/internal/models"
	"mindbook/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGateway struct {
	mu          sync.Mutex
	initiateErr error
	verify      gateway.VerificationOutcome
	verifyErr   error
	refs        int
}

func (g *stubGateway) Initiate(ctx context.Context, req gateway.InitiateRequest) (*gateway.InitiateResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.initiateErr != nil {
		return nil, g.initiateErr
	}
	g.refs++
	return &gateway.InitiateResult{
		TransactionRef: fmt.Sprintf("txn-%d", g.refs),
		RedirectURL:    "https://pay.example.com/checkout",
	}, nil
}

func (g *stubGateway) Verify(ctx context.Context, transactionRef string) (*gateway.VerificationOutcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	out := g.verify
	return &out, nil
}

type apiEnv struct {
	srv  *HTTPServer
	db   *database.DB
	gw   *stubGateway
	slot *models.Slot
}

func testAPIConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Port: 0},
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			APIKeys:      []config.APIClientKey{{Key: "secret-key", Name: "ui"}},
		},
		RateLimit: config.APIRateLimitConfig{RPS: 1000, Burst: 1000},
	}
}

func newAPIEnv(t *testing.T, cfg config.APIConfig) *apiEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(filepath.Join(t.TempDir(), "api.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, db.SyncTherapists(ctx, []models.Therapist{{
		ID:             "t-1",
		Name:           "Dr. Amadi",
		SessionMinutes: 50,
		RateAmount:     500000,
		RateCurrency:   "NGN",
		IsActive:       true,
	}}))

	start := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	slot := &models.Slot{TherapistID: "t-1", StartTime: start, EndTime: start.Add(50 * time.Minute)}
	require.NoError(t, db.CreateSlot(ctx, slot))

	gw := &stubGateway{verify: gateway.VerificationOutcome{Status: gateway.VerifyPending}}
	svc := service.NewBookingService(db, gw, nil, nil, events.NewEventBus(), 15*time.Minute, 24*time.Hour, &logger)
	srv := NewHTTPServer(cfg, svc, &logger)

	return &apiEnv{srv: srv, db: db, gw: gw, slot: slot}
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("x-api-key", "secret-key")
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (e *apiEnv) startBooking(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/booking/start",
		map[string]any{"client_id": "client-1", "slot_id": e.slot.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	start := decodeBody[service.BookingStart](t, rec)
	require.NotEmpty(t, start.TransactionRef)
	return start.TransactionRef
}

func TestHealthzSkipsAuth(t *testing.T) {
	env := newAPIEnv(t, testAPIConfig())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	env := newAPIEnv(t, testAPIConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/therapists", nil)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/therapists", nil)
	req.Header.Set("x-api-key", "wrong")
	rec = httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testAPIConfig()
	cfg.RateLimit = config.APIRateLimitConfig{RPS: 0.001, Burst: 1}
	env := newAPIEnv(t, cfg)

	first := env.do(t, http.MethodGet, "/api/v1/therapists", nil)
	assert.Equal(t, http.StatusOK, first.Code)

	second := env.do(t, http.MethodGet, "/api/v1/therapists", nil)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestAvailability(t *testing.T) {
	env := newAPIEnv(t, testAPIConfig())

	rec := env.do(t, http.MethodGet, "/api/v1/availability/t-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string][]models.Slot](t, rec)
	assert.Len(t, body["slots"], 1)

	rec = env.do(t, http.MethodGet, "/api/v1/availability/", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/availability/t-1?from=not-a-time", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateSlot(t *testing.T) {
	env := newAPIEnv(t, testAPIConfig())
	start := time.Now().Add(72 * time.Hour).UTC().Truncate(time.Second)

	rec := env.do(t, http.MethodPost, "/api/v1/slots", map[string]any{
		"therapist_id": "t-1",
		"start_time":   start,
		"end_time":     start.Add(50 * time.Minute),
	})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/v1/slots", map[string]any{
		"therapist_id": "ghost",
		"start_time":   start,
		"end_time":     start.Add(time.Hour),
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBookingStart(t *testing.T) {
	env := newAPIEnv(t, testAPIConfig())

	ref := env.startBooking(t)
	assert.NotEmpty(t, ref)

	// Losing the race is a conflict, not a server error.
	rec := env.do(t, http.MethodPost, "/api/v1/booking/start",
		map[string]any{"client_id": "client-2", "slot_id": env.slot.ID})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBookingStartGatewayDown(t *testing.T) {
	env := newAPIEnv(t, testAPIConfig())
	env.gw.initiateErr = &gateway.GatewayError{Op: "initiate", StatusCode: 503, Message: "down"}

	rec := env.do(t, http.MethodPost, "/api/v1/booking/start",
		map[string]any{"client_id": "client-1", "slot_id": env.slot.ID})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestBookingVerify(t *testing.T) {
	env := newAPIEnv(t, testAPIConfig())
	ref := env.startBooking(t)

	rec := env.do(t, http.MethodPost, "/api/v1/booking/verify",
		map[string]any{"transaction_ref": ref})
	require.Equal(t, http.StatusOK, rec.Code)
	outcome := decodeBody[service.BookingOutcome](t, rec)
	assert.Equal(t, service.OutcomePending, outcome.Status)

	env.gw.mu.Lock()
	env.gw.verify = gateway.VerificationOutcome{Status: gateway.VerifyCompleted, Amount: 500000, Currency: "NGN"}
	env.gw.mu.Unlock()

	rec = env.do(t, http.MethodPost, "/api/v1/booking/verify",
		map[string]any{"transaction_ref": ref})
	require.Equal(t, http.StatusOK, rec.Code)
	outcome = decodeBody[service.BookingOutcome](t, rec)
	assert.Equal(t, service.OutcomeConfirmed, outcome.Status)
	assert.NotEmpty(t, outcome.SessionID)

	// Session is readable.
	rec = env.do(t, http.MethodGet, "/api/v1/session/"+outcome.SessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	session := decodeBody[models.Session](t, rec)
	assert.Equal(t, models.SessionScheduled, session.Status)
}

func TestBookingVerifyUnknownRef(t *testing.T) {
	env := newAPIEnv(t, testAPIConfig())
	rec := env.do(t, http.MethodPost, "/api/v1/booking/verify",
		map[string]any{"transaction_ref": "txn-missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBookingCancel(t *testing.T) {
	env := newAPIEnv(t, testAPIConfig())
	ref := env.startBooking(t)

	rec := env.do(t, http.MethodPost, "/api/v1/booking/cancel",
		map[string]any{"transaction_ref": ref})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Slot is back on the market.
	avail := env.do(t, http.MethodGet, "/api/v1/availability/t-1", nil)
	body := decodeBody[map[string][]models.Slot](t, avail)
	assert.Len(t, body["slots"], 1)

	// Cancelling twice is a conflict.
	rec = env.do(t, http.MethodPost, "/api/v1/booking/cancel",
		map[string]any{"transaction_ref": ref})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSessionCancelTooLate(t *testing.T) {
	env := newAPIEnv(t, testAPIConfig())
	ref := env.startBooking(t)

	env.gw.mu.Lock()
	env.gw.verify = gateway.VerificationOutcome{Status: gateway.VerifyCompleted, Amount: 500000, Currency: "NGN"}
	env.gw.mu.Unlock()

	rec := env.do(t, http.MethodPost, "/api/v1/booking/verify",
		map[string]any{"transaction_ref": ref})
	outcome := decodeBody[service.BookingOutcome](t, rec)
	require.Equal(t, service.OutcomeConfirmed, outcome.Status)

	_, err := env.db.ExecContext(context.Background(),
		`UPDATE sessions SET scheduled_time = ? WHERE id = ?`,
		time.Now().Add(23*time.Hour), outcome.SessionID)
	require.NoError(t, err)

	rec = env.do(t, http.MethodPost, "/api/v1/session/cancel/"+outcome.SessionID,
		map[string]any{"cancelled_by": "client", "reason": "conflict"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/session/cancel/"+outcome.SessionID,
		map[string]any{"cancelled_by": "therapist", "reason": "emergency"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClientSessions(t *testing.T) {
	env := newAPIEnv(t, testAPIConfig())
	ref := env.startBooking(t)

	env.gw.mu.Lock()
	env.gw.verify = gateway.VerificationOutcome{Status: gateway.VerifyCompleted, Amount: 500000, Currency: "NGN"}
	env.gw.mu.Unlock()

	rec := env.do(t, http.MethodPost, "/api/v1/booking/verify",
		map[string]any{"transaction_ref": ref})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/client/sessions/client-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string][]models.Session](t, rec)
	assert.Len(t, body["sessions"], 1)

	rec = env.do(t, http.MethodGet, "/api/v1/client/sessions/client-nobody", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody[map[string][]models.Session](t, rec)
	assert.Empty(t, body["sessions"])
}

func TestSessionNotFound(t *testing.T) {
	env := newAPIEnv(t, testAPIConfig())
	rec := env.do(t, http.MethodGet, "/api/v1/session/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newAPIEnv(t, testAPIConfig())
	rec := env.do(t, http.MethodDelete, "/api/v1/booking/start", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestInvalidJSON(t *testing.T) {
	env := newAPIEnv(t, testAPIConfig())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/booking/start", bytes.NewReader([]byte("{broken")))
	req.Header.Set("x-api-key", "secret-key")
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
