package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ofair/referrals/internal/api"
	"github.com/ofair/referrals/internal/config"
	"github.com/ofair/referrals/internal/domain"
	"github.com/ofair/referrals/internal/leads"
	"github.com/ofair/referrals/internal/logging"
	"github.com/ofair/referrals/internal/models"
	"github.com/ofair/referrals/internal/money"
	"github.com/ofair/referrals/internal/notify"
	"github.com/ofair/referrals/internal/queue"
	"github.com/ofair/referrals/internal/rules"
	"github.com/ofair/referrals/internal/service"
	"github.com/ofair/referrals/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopQueue struct{ tasks []queue.Task }

func (q *nopQueue) Enqueue(_ context.Context, t queue.Task) error {
	q.tasks = append(q.tasks, t)
	return nil
}

type identity struct {
	id, role string
	verified bool
}

var (
	alice   = identity{"alice", "customer", true}
	bob     = identity{"bob", "customer", true}
	admin   = identity{"admin-1", "admin", true}
	finance = identity{"finance-1", "finance", true}
)

type testServer struct {
	srv   *httptest.Server
	tasks *nopQueue
	calc  *service.CommissionCalculator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logging.NewTestLogger()
	st := store.NewMemoryStore()
	catalog := leads.NewStatic(domain.Lead{ID: "lead-1", Category: "renovation", Value: money.MustParse("5000")})
	table := rules.Default()
	notes := notify.NewLogNotifier(log)
	tasks := &nopQueue{}
	cfg := config.DefaultCommissionConfig()
	clock := func() time.Time { return time.Date(2026, time.June, 1, 9, 0, 0, 0, time.UTC) }

	graph := service.NewReferralGraph(st)
	referrals := service.NewReferralService(log, st, graph, catalog, table, tasks, notes, service.NewBasicContentGate(), cfg.MaxChainDepth, 3)
	referrals.SetClock(clock)
	calc := service.NewCommissionCalculator(log, st, st, graph, catalog, table, notes, cfg)
	calc.SetClock(clock)
	payments := service.NewPaymentProcessor(log, st, notes, 3)
	stats := service.NewStatsAggregator(st, st)

	h := api.NewHandler(log, referrals, calc, payments, stats)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, tasks: tasks, calc: calc}
}

func (s *testServer) do(t *testing.T, who *identity, method, path string, body interface{}, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	require.NoError(t, err)
	if who != nil {
		req.Header.Set(api.HeaderUserID, who.id)
		req.Header.Set(api.HeaderUserRole, who.role)
		if who.verified {
			req.Header.Set(api.HeaderVerified, "true")
		}
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestReferralFlow(t *testing.T) {
	s := newTestServer(t)
	referred := "bob"

	var ref domain.Referral
	code := s.do(t, &alice, http.MethodPost, "/api/v1/referrals", models.CreateReferralRequest{
		LeadID:         "lead-1",
		ReferredUserID: &referred,
	}, &ref)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "0.1000", ref.CommissionRate.String())

	var got domain.Referral
	require.Equal(t, http.StatusOK, s.do(t, &bob, http.MethodGet, "/api/v1/referrals/"+ref.ID, nil, &got))
	assert.Equal(t, ref.ID, got.ID)

	var errResp models.ErrorResponse
	code = s.do(t, &alice, http.MethodPatch, "/api/v1/referrals/"+ref.ID+"/status", models.UpdateStatusRequest{Status: domain.ReferralActive}, &errResp)
	assert.Equal(t, http.StatusForbidden, code)
	assert.NotEmpty(t, errResp.Error)

	require.Equal(t, http.StatusOK, s.do(t, &bob, http.MethodPatch, "/api/v1/referrals/"+ref.ID+"/status", models.UpdateStatusRequest{Status: domain.ReferralActive}, &got))
	require.Equal(t, http.StatusOK, s.do(t, &admin, http.MethodPatch, "/api/v1/referrals/"+ref.ID+"/status", models.UpdateStatusRequest{Status: domain.ReferralCompleted}, &got))
	assert.Equal(t, domain.ReferralCompleted, got.Status)
	assert.Len(t, s.tasks.tasks, 1)

	code = s.do(t, &admin, http.MethodPatch, "/api/v1/referrals/"+ref.ID+"/status", models.UpdateStatusRequest{Status: domain.ReferralCancelled}, nil)
	assert.Equal(t, http.StatusConflict, code)

	var chain models.ChainResponse
	require.Equal(t, http.StatusOK, s.do(t, &alice, http.MethodGet, "/api/v1/referrals/"+ref.ID+"/chain", nil, &chain))
	assert.Equal(t, 1, chain.Depth)

	var accepted models.TaskAccepted
	require.Equal(t, http.StatusAccepted, s.do(t, &finance, http.MethodPost, "/api/v1/referrals/"+ref.ID+"/commissions/recalculate", nil, &accepted))
	assert.Equal(t, "queued", accepted.Status)
	assert.Len(t, s.tasks.tasks, 2)

	var list models.ReferralListResponse
	require.Equal(t, http.StatusOK, s.do(t, &alice, http.MethodGet, "/api/v1/users/alice/referrals?limit=5", nil, &list))
	assert.Len(t, list.Referrals, 1)
	assert.Equal(t, http.StatusForbidden, s.do(t, &bob, http.MethodGet, "/api/v1/users/alice/referrals", nil, nil))
}

func TestCommissionFlow(t *testing.T) {
	s := newTestServer(t)
	referred := "bob"
	rate := money.MustParseRate("0.08")

	var ref domain.Referral
	require.Equal(t, http.StatusCreated, s.do(t, &alice, http.MethodPost, "/api/v1/referrals", models.CreateReferralRequest{
		LeadID:         "lead-1",
		ReferredUserID: &referred,
		CommissionRate: &rate,
	}, &ref))

	body := models.CalculateCommissionRequest{LeadValue: money.MustParse("5000")}
	assert.Equal(t, http.StatusForbidden, s.do(t, &alice, http.MethodPost, "/api/v1/referrals/"+ref.ID+"/commission", body, nil))

	var c domain.Commission
	require.Equal(t, http.StatusCreated, s.do(t, &finance, http.MethodPost, "/api/v1/referrals/"+ref.ID+"/commission", body, &c))
	assert.Equal(t, "400.00", c.ReferrerCommission.String())
	assert.Equal(t, "500.00", c.PlatformCommission.String())

	var pending models.CommissionListResponse
	require.Equal(t, http.StatusOK, s.do(t, &finance, http.MethodGet, "/api/v1/commissions/pending", nil, &pending))
	require.Len(t, pending.Commissions, 1)

	require.Equal(t, http.StatusOK, s.do(t, &finance, http.MethodPost, "/api/v1/commissions/"+c.ID+"/approve", nil, nil))

	pay := models.PaymentRequest{PaymentMethod: "bank_transfer", TransactionID: "txn-1"}
	var res domain.PaymentResult
	require.Equal(t, http.StatusOK, s.do(t, &finance, http.MethodPost, "/api/v1/commissions/"+c.ID+"/pay", pay, &res))
	assert.Equal(t, "400.00", res.Amount.String())
	assert.Equal(t, http.StatusConflict, s.do(t, &admin, http.MethodPost, "/api/v1/commissions/"+c.ID+"/pay", pay, nil))

	var stats domain.StatsSummary
	require.Equal(t, http.StatusOK, s.do(t, &alice, http.MethodGet, "/api/v1/users/alice/stats?start=2026-05-01&end=2026-06-30", nil, &stats))
	assert.Equal(t, "400.00", stats.PaidTotal.String())
	assert.Equal(t, 1, stats.TotalReferrals)

	assert.Equal(t, http.StatusUnprocessableEntity, s.do(t, &alice, http.MethodGet, "/api/v1/users/alice/stats?start=2026-06-30&end=2026-05-01", nil, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(t, &alice, http.MethodGet, "/api/v1/users/alice/stats?start=yesterday", nil, nil))
}

func TestRequestValidation(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, s.do(t, nil, http.MethodGet, "/api/v1/referrals/x", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, s.do(t, &identity{"eve", "hacker", true}, http.MethodGet, "/api/v1/referrals/x", nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(t, &alice, http.MethodGet, "/api/v1/referrals/x", nil, nil))
	assert.Equal(t, http.StatusUnprocessableEntity, s.do(t, &alice, http.MethodPost, "/api/v1/referrals", models.CreateReferralRequest{}, nil))
	assert.Equal(t, http.StatusForbidden, s.do(t, &identity{"carol", "customer", false}, http.MethodPost, "/api/v1/referrals",
		models.CreateReferralRequest{LeadID: "lead-1"}, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(t, &finance, http.MethodGet, "/api/v1/commissions/pending?limit=ten", nil, nil))

	var health map[string]string
	require.Equal(t, http.StatusOK, s.do(t, nil, http.MethodGet, "/health", nil, &health))
	assert.Equal(t, "ok", health["status"])
}
