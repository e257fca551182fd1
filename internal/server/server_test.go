package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"VaultLedger/internal/ingestion"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/query"
	"VaultLedger/internal/server"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	knownHolder = uuid.MustParse("6f1c1f47-2d7e-4c55-9a53-0d7b6c7b5a01")
	strategyA   = uuid.MustParse("a1e0a3c2-8b2f-4a57-bf0e-3b1c2d9f7a10")
)

type fakeQuery struct {
	lastPrefix string
	lastLimit  int
	lastBefore *int64
}

func (f *fakeQuery) GetVault(context.Context) (*query.VaultResponse, error) {
	return &query.VaultResponse{
		Asset:         "USDC",
		TotalAssets:   decimal.RequireFromString("1500.25"),
		PricePerShare: decimal.RequireFromString("1.0125"),
		DebtRatioBps:  8000,
		AsOfSequence:  42,
	}, nil
}

func (f *fakeQuery) ListStrategies(context.Context) ([]query.StrategyResponse, error) {
	pos := 0
	return []query.StrategyResponse{{StrategyID: strategyA, Status: "active", QueuePosition: &pos, DebtRatioBps: 8000}}, nil
}

func (f *fakeQuery) GetShares(_ context.Context, holder uuid.UUID) (*query.SharesResponse, error) {
	if holder != knownHolder {
		return nil, fmt.Errorf("holder %s: %w", holder, query.ErrNotFound)
	}
	return &query.SharesResponse{Holder: holder, Shares: decimal.NewFromInt(10), RawShares: 10_000_000}, nil
}

func (f *fakeQuery) GetHarvestHistory(_ context.Context, strategyID *uuid.UUID, limit int, before *int64) ([]query.HarvestResponse, error) {
	f.lastLimit, f.lastBefore = limit, before
	return []query.HarvestResponse{{Sequence: 7, StrategyID: strategyA, Gain: decimal.NewFromInt(5)}}, nil
}

func (f *fakeQuery) GetJournalHistory(_ context.Context, prefix string, limit int, before *int64) ([]query.JournalHistoryEntry, error) {
	f.lastPrefix, f.lastLimit, f.lastBefore = prefix, limit, before
	return []query.JournalHistoryEntry{{Sequence: 3, DebitAccount: "vault:idle:USDC", Asset: "USDC"}}, nil
}

func (f *fakeQuery) VerifyIntegrity(context.Context) (*query.IntegrityReport, error) {
	return &query.IntegrityReport{IsHealthy: true}, nil
}

type fakeIngest struct{}

func (fakeIngest) SubmitCommand(_ context.Context, eventType string, data []byte) (*ingestion.CommandReceipt, error) {
	if eventType != "Deposit" {
		return nil, fmt.Errorf("%w: unknown command %q", ingestion.ErrMalformedCommand, eventType)
	}
	return &ingestion.CommandReceipt{Applied: true, Sequence: 9, StateHash: "ab"}, nil
}

type fakeAdmin struct{ rebuilt int }

func (f *fakeAdmin) RebuildProjections(context.Context) error { f.rebuilt++; return nil }

func (f *fakeAdmin) LatestSequence(context.Context) (int64, error) { return 41, nil }

func (f *fakeAdmin) TakeSnapshot(context.Context) (int64, error) { return 41, nil }

type harness struct {
	conn    *grpc.ClientConn
	query   *fakeQuery
	admin   *fakeAdmin
	metrics *observability.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		query:   &fakeQuery{},
		admin:   &fakeAdmin{},
		metrics: observability.NewMetricsWith(prometheus.NewRegistry()),
	}
	srv := server.NewGRPCServer("bufnet", "", &server.ServerDeps{
		Query:   h.query,
		Ingest:  fakeIngest{},
		Admin:   h.admin,
		Metrics: h.metrics,
		Logger:  zerolog.Nop(),
	})

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	h.conn = conn

	t.Cleanup(func() {
		conn.Close()
		cancel()
		<-done
	})
	return h
}

func (h *harness) invoke(t *testing.T, method string, req, resp any) error {
	t.Helper()
	return h.conn.Invoke(context.Background(), method, req, resp, grpc.CallContentSubtype("json"))
}

func TestGRPC_GetVault(t *testing.T) {
	h := newHarness(t)

	var resp query.VaultResponse
	require.NoError(t, h.invoke(t, "/vaultledger.v1.VaultQuery/GetVault", &server.GetVaultRequest{}, &resp))
	require.Equal(t, "USDC", resp.Asset)
	require.True(t, resp.TotalAssets.Equal(decimal.RequireFromString("1500.25")))
	require.Equal(t, int64(42), resp.AsOfSequence)

	require.Equal(t, 1.0, promtest.ToFloat64(h.metrics.QueryRequests.WithLabelValues("GetVault", "ok")))
}

func TestGRPC_ErrorCodes(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		method string
		req    any
		resp   any
		code   codes.Code
	}{
		{"bad holder", "/vaultledger.v1.VaultQuery/GetShares", &server.GetSharesRequest{Holder: "nope"}, &query.SharesResponse{}, codes.InvalidArgument},
		{"unknown holder", "/vaultledger.v1.VaultQuery/GetShares", &server.GetSharesRequest{Holder: uuid.NewString()}, &query.SharesResponse{}, codes.NotFound},
		{"journals need a filter", "/vaultledger.v1.VaultQuery/ListJournals", &server.ListJournalsRequest{}, &server.ListJournalsResponse{}, codes.InvalidArgument},
		{"malformed command", "/vaultledger.v1.VaultIngest/SubmitCommand", &server.SubmitCommandRequest{EventType: "Bogus", Command: json.RawMessage(`{}`)}, &ingestion.CommandReceipt{}, codes.InvalidArgument},
		{"missing event type", "/vaultledger.v1.VaultIngest/SubmitCommand", &server.SubmitCommandRequest{}, &ingestion.CommandReceipt{}, codes.InvalidArgument},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := h.invoke(t, tc.method, tc.req, tc.resp)
			require.Equal(t, tc.code, status.Code(err), "err: %v", err)
		})
	}

	require.Equal(t, 1.0, promtest.ToFloat64(h.metrics.QueryErrors.WithLabelValues("GetShares", codes.NotFound.String())))
}

func TestGRPC_ListJournals_HolderPrefixAndPaging(t *testing.T) {
	h := newHarness(t)

	var resp server.ListJournalsResponse
	req := &server.ListJournalsRequest{Holder: knownHolder.String(), PageSize: 10_000, BeforeSequence: 100}
	require.NoError(t, h.invoke(t, "/vaultledger.v1.VaultQuery/ListJournals", req, &resp))
	require.Len(t, resp.Journals, 1)
	require.Equal(t, "holder:"+knownHolder.String()+":", h.query.lastPrefix)
	require.Equal(t, 500, h.query.lastLimit)
	require.NotNil(t, h.query.lastBefore)
	require.Equal(t, int64(100), *h.query.lastBefore)
}

func TestGRPC_Admin(t *testing.T) {
	h := newHarness(t)

	var info server.GetEventLogInfoResponse
	require.NoError(t, h.invoke(t, "/vaultledger.v1.VaultAdmin/GetEventLogInfo", &server.GetEventLogInfoRequest{}, &info))
	require.Equal(t, int64(41), info.LastSequence)

	var rebuilt server.RebuildProjectionsResponse
	require.NoError(t, h.invoke(t, "/vaultledger.v1.VaultAdmin/RebuildProjections", &server.RebuildProjectionsRequest{}, &rebuilt))
	require.True(t, rebuilt.Done)
	require.Equal(t, 1, h.admin.rebuilt)
}

func TestGRPC_Health(t *testing.T) {
	h := newHarness(t)

	resp, err := healthpb.NewHealthClient(h.conn).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: server.QueryServiceName})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestGateway(t *testing.T) {
	h := newHarness(t)
	handler, err := server.NewGateway(h.conn, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	defer ts.Close()

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
		contains string
	}{
		{"vault", http.MethodGet, "/v1/vault", "", http.StatusOK, `"total_assets":"1500.25"`},
		{"strategies", http.MethodGet, "/v1/strategies", "", http.StatusOK, strategyA.String()},
		{"shares", http.MethodGet, "/v1/shares/" + knownHolder.String(), "", http.StatusOK, `"raw_shares":10000000`},
		{"shares not found", http.MethodGet, "/v1/shares/" + uuid.NewString(), "", http.StatusNotFound, "not found"},
		{"shares bad id", http.MethodGet, "/v1/shares/xyz", "", http.StatusBadRequest, "invalid holder"},
		{"harvests", http.MethodGet, "/v1/harvests?strategy_id=" + strategyA.String() + "&page_size=5", "", http.StatusOK, `"sequence":7`},
		{"harvests bad page", http.MethodGet, "/v1/harvests?page_size=lots", "", http.StatusBadRequest, "page_size"},
		{"journals", http.MethodGet, "/v1/journals?account=vault:", "", http.StatusOK, "vault:idle:USDC"},
		{"command", http.MethodPost, "/v1/commands/Deposit", `{"holder":"x"}`, http.StatusOK, `"applied":true`},
		{"command bad json", http.MethodPost, "/v1/commands/Deposit", `{`, http.StatusBadRequest, "valid JSON"},
		{"command unknown", http.MethodPost, "/v1/commands/Bogus", `{}`, http.StatusBadRequest, "unknown command"},
		{"integrity", http.MethodGet, "/v1/admin/integrity", "", http.StatusOK, `"is_healthy":true`},
		{"snapshot", http.MethodPost, "/v1/admin/snapshot", "", http.StatusOK, `"sequence":41`},
		{"healthz", http.MethodGet, "/healthz", "", http.StatusOK, "ok"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(tc.method, ts.URL+tc.path, strings.NewReader(tc.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			require.Equal(t, tc.wantCode, resp.StatusCode, string(body))
			require.Contains(t, string(body), tc.contains)
		})
	}
	http.DefaultClient.CloseIdleConnections()
}
