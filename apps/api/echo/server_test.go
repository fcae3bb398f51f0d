package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/downline/apps/api/echo"
	"github.com/trezcool/downline/core"
	"github.com/trezcool/downline/core/matrix"
	"github.com/trezcool/downline/core/plan"
	logsvc "github.com/trezcool/downline/services/logger"
	metricsvc "github.com/trezcool/downline/services/metrics"
	inmemdb "github.com/trezcool/downline/storage/database/inmem"
)

type testServer struct {
	*echoapi.Server
	lease matrix.Lease
}

func setup(t *testing.T, p plan.Plan) testServer {
	t.Helper()
	db := inmemdb.Open()
	lease := inmemdb.NewLease(db)

	reg := prometheus.NewRegistry()
	metrics, err := metricsvc.New(reg)
	require.NoError(t, err)

	svc := matrix.NewService(inmemdb.NewNodeStore(db), inmemdb.NewLedger(db), lease, p,
		matrix.WithMetrics(metrics), matrix.WithRetryInterval(0))

	conf := &core.Config{TestMode: true, Server: core.ServerConfig{DisableReqLogs: true}}
	translator := core.NewTranslator()
	srv := echoapi.NewServer(conf, logsvc.NewNopLogger(), svc, core.NewValidator(translator), translator, reg)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return testServer{Server: srv, lease: lease}
}

func (s testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func (s testServer) place(t *testing.T, userID, sponsorID string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, http.MethodPost, "/v1/matrix/placements", map[string]string{
		"user_id":    userID,
		"sponsor_id": sponsorID,
		"username":   strings.ToLower(userID),
	})
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

type httpErr struct {
	Error string `json:"error"`
}

func TestHome(t *testing.T) {
	s := setup(t, plan.Default())
	rec := s.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPlacements(t *testing.T) {
	p := plan.Default()
	p.Width = 1
	p.MaxDepth = 2
	p.TSCRates = map[int]decimal.Decimal{2: p.TSCRates[2]}
	s := setup(t, p)

	rec := s.place(t, "R", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var root matrix.Placement
	decode(t, rec, &root)
	assert.Equal(t, matrix.Placement{UserID: "R", Level: 1, Position: 1, Path: "1", Attempts: 1}, root)

	rec = s.place(t, "A", "R")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var a matrix.Placement
	decode(t, rec, &a)
	assert.Equal(t, "1.1", a.Path)
	assert.Equal(t, "R", a.ParentID)

	tests := []struct {
		name     string
		body     interface{}
		wantCode int
		wantErr  string
		wantFlds map[string]string
	}{
		{
			name:     "duplicate",
			body:     map[string]string{"user_id": "A", "sponsor_id": "R", "username": "a"},
			wantCode: http.StatusConflict,
			wantErr:  matrix.ErrDuplicateNode.Error(),
		},
		{
			name:     "second root",
			body:     map[string]string{"user_id": "Z", "username": "z"},
			wantCode: http.StatusConflict,
			wantErr:  matrix.ErrRootAlreadyExists.Error(),
		},
		{
			name:     "unknown sponsor",
			body:     map[string]string{"user_id": "B", "sponsor_id": "ghost", "username": "b"},
			wantCode: http.StatusNotFound,
			wantErr:  matrix.ErrSponsorNotFound.Error(),
		},
		{
			name:     "matrix full",
			body:     map[string]string{"user_id": "B", "sponsor_id": "R", "username": "b"},
			wantCode: http.StatusConflict,
			wantErr:  matrix.ErrMatrixFull.Error(),
		},
		{
			name:     "unknown tier",
			body:     map[string]string{"user_id": "B", "sponsor_id": "R", "username": "b", "tier": "WOOD"},
			wantCode: http.StatusBadRequest,
			wantErr:  plan.ErrUnknownTier.Error(),
		},
		{
			name:     "missing fields",
			body:     map[string]string{"sponsor_id": "R"},
			wantCode: http.StatusBadRequest,
			wantFlds: map[string]string{"user_id": "this field is required", "username": "this field is required"},
		},
		{
			name:     "bad username",
			body:     map[string]string{"user_id": "B", "sponsor_id": "R", "username": "b@d"},
			wantCode: http.StatusBadRequest,
			wantFlds: map[string]string{"username": "only alphanumeric characters and underscores are allowed"},
		},
		{
			name:     "username with space",
			body:     map[string]string{"user_id": "B", "sponsor_id": "R", "username": "b b"},
			wantCode: http.StatusBadRequest,
			wantFlds: map[string]string{"username": "only alphanumeric characters and underscores are allowed"},
		},
		{
			name:     "blank user id",
			body:     map[string]string{"user_id": "   ", "sponsor_id": "R", "username": "b"},
			wantCode: http.StatusBadRequest,
			wantErr:  matrix.ErrBlankUserID.Error(),
		},
		{
			name:     "own sponsor",
			body:     map[string]string{"user_id": "B", "sponsor_id": "B", "username": "b"},
			wantCode: http.StatusBadRequest,
			wantErr:  matrix.ErrSelfSponsor.Error(),
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/v1/matrix/placements", tc.body)
			require.Equal(t, tc.wantCode, rec.Code, rec.Body.String())
			if tc.wantFlds != nil {
				var flds map[string]string
				decode(t, rec, &flds)
				assert.Equal(t, tc.wantFlds, flds)
				return
			}
			var e httpErr
			decode(t, rec, &e)
			assert.Equal(t, tc.wantErr, e.Error)
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/v1/matrix/placements", `{"user_id": `)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestNodeEndpoints(t *testing.T) {
	s := setup(t, plan.Default())
	for _, id := range []string{"R", "A", "B"} {
		sponsor := "R"
		if id == "R" {
			sponsor = ""
		}
		require.Equal(t, http.StatusCreated, s.place(t, id, sponsor).Code)
	}

	t.Run("retrieve", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/v1/matrix/nodes/R", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var node matrix.Node
		decode(t, rec, &node)
		assert.Equal(t, "R", node.UserID)
		assert.Len(t, node.Slots, 7)
		assert.Len(t, node.RecruitedLeaders, 2)
	})

	t.Run("not found", func(t *testing.T) {
		for _, path := range []string{"/v1/matrix/nodes/ghost", "/v1/matrix/nodes/ghost/tree", "/v1/matrix/nodes/ghost/stats"} {
			rec := s.do(t, http.MethodGet, path, nil)
			assert.Equal(t, http.StatusNotFound, rec.Code, path)
			var e httpErr
			decode(t, rec, &e)
			assert.Equal(t, matrix.ErrNodeNotFound.Error(), e.Error, path)
		}
	})

	t.Run("descendants", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/v1/matrix/nodes/R/descendants?depth=1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var desc []matrix.Descendant
		decode(t, rec, &desc)
		require.Len(t, desc, 2)
		assert.Equal(t, "A", desc[0].UserID)

		rec = s.do(t, http.MethodGet, "/v1/matrix/nodes/R/descendants?depth=abc", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var flds map[string]string
		decode(t, rec, &flds)
		assert.Contains(t, flds, "depth")
	})

	t.Run("tree", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/v1/matrix/nodes/R/tree?depth=1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var tree matrix.TreeNode
		decode(t, rec, &tree)
		require.Len(t, tree.Children, 7)
		assert.Equal(t, "A", tree.Children[0].UserID)
		assert.True(t, tree.Children[2].Placeholder)
	})

	t.Run("spillover and stats", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/v1/matrix/nodes/R/spillover", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var sp matrix.SpilloverStats
		decode(t, rec, &sp)
		assert.Equal(t, 2, sp.TotalRecruited)

		rec = s.do(t, http.MethodGet, "/v1/matrix/nodes/R/stats", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var st matrix.Stats
		decode(t, rec, &st)
		assert.Equal(t, 2, st.TotalDownline)
	})

	t.Run("qualification", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/v1/matrix/nodes/R/qualification/1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var q echoapi.QualificationResponse
		decode(t, rec, &q)
		assert.Equal(t, echoapi.QualificationResponse{UserID: "R", Level: 1, Qualified: true}, q)

		rec = s.do(t, http.MethodGet, "/v1/matrix/nodes/R/qualification", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		decode(t, rec, &q)
		assert.Equal(t, 1, q.Level)

		rec = s.do(t, http.MethodGet, "/v1/matrix/nodes/R/qualification/99", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		rec = s.do(t, http.MethodGet, "/v1/matrix/nodes/R/qualification/top", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("tier and active", func(t *testing.T) {
		rec := s.do(t, http.MethodPut, "/v1/matrix/nodes/A/tier", map[string]string{"tier": "GOLD"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var node matrix.Node
		decode(t, rec, &node)
		assert.Equal(t, plan.TierGold, node.Tier)

		rec = s.do(t, http.MethodPut, "/v1/matrix/nodes/A/tier", map[string]string{"tier": " silver "})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		decode(t, rec, &node)
		assert.Equal(t, plan.TierSilver, node.Tier)

		rec = s.do(t, http.MethodPut, "/v1/matrix/nodes/A/tier", map[string]string{"tier": "WOOD"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = s.do(t, http.MethodPut, "/v1/matrix/nodes/A/active", map[string]bool{"active": false})
		require.Equal(t, http.StatusOK, rec.Code)
		decode(t, rec, &node)
		assert.False(t, node.IsActive)

		rec = s.do(t, http.MethodPut, "/v1/matrix/nodes/A/active", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSales(t *testing.T) {
	s := setup(t, plan.Default())
	require.Equal(t, http.StatusCreated, s.place(t, "R", "").Code)
	require.Equal(t, http.StatusCreated, s.place(t, "B", "R").Code)
	rec := s.do(t, http.MethodPut, "/v1/matrix/nodes/R/tier", map[string]string{"tier": "GOLD"})
	require.Equal(t, http.StatusOK, rec.Code)

	t.Run("preview", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/v1/commissions/preview", map[string]interface{}{
			"buyer_id": "B", "amount": 1000, "point_value": 25,
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var records []matrix.Record
		decode(t, rec, &records)
		require.Len(t, records, 1)
		assert.Equal(t, "280", records[0].Amount.String())

		rec = s.do(t, http.MethodPost, "/v1/commissions/preview", map[string]interface{}{"buyer_id": "B", "amount": -1})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = s.do(t, http.MethodPost, "/v1/commissions/preview", map[string]interface{}{"buyer_id": "ghost", "amount": 1})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("process once", func(t *testing.T) {
		sale := map[string]interface{}{"id": "sale-1", "buyer_id": "B", "amount": "1000", "point_value": "25"}
		rec := s.do(t, http.MethodPost, "/v1/sales", sale)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var res matrix.SaleResult
		decode(t, rec, &res)
		assert.True(t, res.Paid)
		assert.Equal(t, "sale-1", res.Sale.ID)

		rec = s.do(t, http.MethodPost, "/v1/sales", sale)
		require.Equal(t, http.StatusOK, rec.Code)
		decode(t, rec, &res)
		assert.False(t, res.Paid)
		assert.Len(t, res.Records, 1)

		rec = s.do(t, http.MethodGet, "/v1/sales/sale-1/commissions", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var records []matrix.Record
		decode(t, rec, &records)
		assert.Len(t, records, 1)

		rec = s.do(t, http.MethodGet, "/v1/matrix/nodes/R", nil)
		var r matrix.Node
		decode(t, rec, &r)
		assert.Equal(t, "280", r.Commissions.ISP.TotalEarned.String())
	})

	t.Run("unknown sale", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/v1/sales/nope/commissions", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestJobs(t *testing.T) {
	s := setup(t, plan.Default())
	require.Equal(t, http.StatusCreated, s.place(t, "R", "").Code)

	rec := s.do(t, http.MethodPost, "/v1/jobs/qualification", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res matrix.PassResult
	decode(t, rec, &res)
	assert.Equal(t, 1, res.Nodes)

	rec = s.do(t, http.MethodPost, "/v1/jobs/monthly-reset", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	ok, err := s.lease.Acquire(context.Background(), matrix.LeaseQualification, "elsewhere", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	rec = s.do(t, http.MethodPost, "/v1/jobs/qualification", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestPlanAndMetrics(t *testing.T) {
	s := setup(t, plan.Phased())
	require.Equal(t, http.StatusCreated, s.place(t, "R", "").Code)

	rec := s.do(t, http.MethodGet, "/v1/plan", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var p plan.Plan
	decode(t, rec, &p)
	assert.Equal(t, 3, p.Width)
	assert.Equal(t, 4, p.MaxDepth)

	rec = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `downline_placement_succeeded_total{level="1",spillover="false"} 1`)
}
