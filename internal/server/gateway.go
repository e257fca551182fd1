package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"VaultLedger/internal/ingestion"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/query"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const maxCommandBody = 1 << 20

// route maps one HTTP path onto one gRPC method.
type route struct {
	method  string
	pattern string
	handler runtime.HandlerFunc
}

// gateway translates HTTP/JSON into JSON-coded gRPC calls on conn.
type gateway struct {
	mux  *runtime.ServeMux
	conn grpc.ClientConnInterface
}

// NewGateway builds the HTTP handler for the vault API:
//
//	GET  /v1/vault
//	GET  /v1/strategies
//	GET  /v1/shares/{holder}
//	GET  /v1/harvests?strategy_id=&page_size=&before_sequence=
//	GET  /v1/journals?holder=|account=&page_size=&before_sequence=
//	POST /v1/commands/{event_type}
//	GET  /v1/admin/integrity
//	GET  /v1/admin/event-log
//	POST /v1/admin/rebuild
//	POST /v1/admin/snapshot
//
// plus /healthz and /readyz when hc is set.
func NewGateway(conn grpc.ClientConnInterface, hc *observability.HealthChecker) (http.Handler, error) {
	g := &gateway{mux: runtime.NewServeMux(), conn: conn}

	routes := []route{
		{http.MethodGet, "/v1/vault", g.getVault},
		{http.MethodGet, "/v1/strategies", g.listStrategies},
		{http.MethodGet, "/v1/shares/{holder}", g.getShares},
		{http.MethodGet, "/v1/harvests", g.listHarvests},
		{http.MethodGet, "/v1/journals", g.listJournals},
		{http.MethodPost, "/v1/commands/{event_type}", g.submitCommand},
		{http.MethodGet, "/v1/admin/integrity", g.verifyIntegrity},
		{http.MethodGet, "/v1/admin/event-log", g.eventLogInfo},
		{http.MethodPost, "/v1/admin/rebuild", g.rebuildProjections},
		{http.MethodPost, "/v1/admin/snapshot", g.takeSnapshot},
	}
	for _, rt := range routes {
		if err := g.mux.HandlePath(rt.method, rt.pattern, rt.handler); err != nil {
			return nil, err
		}
	}

	httpMux := http.NewServeMux()
	if hc != nil {
		httpMux.HandleFunc("/healthz", hc.LivenessHandler)
		httpMux.HandleFunc("/readyz", hc.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			io.WriteString(w, `{"status":"ok"}`)
		})
	}
	httpMux.Handle("/", g.mux)
	return httpMux, nil
}

func (g *gateway) getVault(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	g.call(w, r, QueryServiceName, "GetVault", &GetVaultRequest{}, new(query.VaultResponse))
}

func (g *gateway) listStrategies(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	g.call(w, r, QueryServiceName, "ListStrategies", &ListStrategiesRequest{}, new(ListStrategiesResponse))
}

func (g *gateway) getShares(w http.ResponseWriter, r *http.Request, params map[string]string) {
	g.call(w, r, QueryServiceName, "GetShares", &GetSharesRequest{Holder: params["holder"]}, new(query.SharesResponse))
}

func (g *gateway) listHarvests(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q := r.URL.Query()
	req := &ListHarvestsRequest{StrategyID: q.Get("strategy_id")}
	if err := paging(q.Get("page_size"), q.Get("before_sequence"), &req.PageSize, &req.BeforeSequence); err != nil {
		g.fail(w, r, err)
		return
	}
	g.call(w, r, QueryServiceName, "ListHarvests", req, new(ListHarvestsResponse))
}

func (g *gateway) listJournals(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q := r.URL.Query()
	req := &ListJournalsRequest{Holder: q.Get("holder"), Account: q.Get("account")}
	if err := paging(q.Get("page_size"), q.Get("before_sequence"), &req.PageSize, &req.BeforeSequence); err != nil {
		g.fail(w, r, err)
		return
	}
	g.call(w, r, QueryServiceName, "ListJournals", req, new(ListJournalsResponse))
}

func (g *gateway) submitCommand(w http.ResponseWriter, r *http.Request, params map[string]string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
	if err != nil {
		g.fail(w, r, status.Errorf(codes.InvalidArgument, "read body: %v", err))
		return
	}
	if !json.Valid(body) {
		g.fail(w, r, status.Error(codes.InvalidArgument, "body is not valid JSON"))
		return
	}
	req := &SubmitCommandRequest{EventType: params["event_type"], Command: body}
	g.call(w, r, IngestServiceName, "SubmitCommand", req, new(ingestion.CommandReceipt))
}

func (g *gateway) verifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	g.call(w, r, AdminServiceName, "VerifyIntegrity", &VerifyIntegrityRequest{}, new(query.IntegrityReport))
}

func (g *gateway) eventLogInfo(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	g.call(w, r, AdminServiceName, "GetEventLogInfo", &GetEventLogInfoRequest{}, new(GetEventLogInfoResponse))
}

func (g *gateway) rebuildProjections(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	g.call(w, r, AdminServiceName, "RebuildProjections", &RebuildProjectionsRequest{}, new(RebuildProjectionsResponse))
}

func (g *gateway) takeSnapshot(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	g.call(w, r, AdminServiceName, "TakeSnapshot", &TakeSnapshotRequest{}, new(TakeSnapshotResponse))
}

// call invokes service/method and writes resp, or the error as a
// google.rpc.Status with the matching HTTP code.
func (g *gateway) call(w http.ResponseWriter, r *http.Request, service, method string, req, resp any) {
	err := g.conn.Invoke(r.Context(), "/"+service+"/"+method, req, resp, grpc.CallContentSubtype(jsonCodecName))
	if err != nil {
		g.fail(w, r, err)
		return
	}

	_, outbound := runtime.MarshalerForRequest(g.mux, r)
	buf, err := outbound.Marshal(resp)
	if err != nil {
		g.fail(w, r, status.Errorf(codes.Internal, "marshal response: %v", err))
		return
	}
	w.Header().Set("Content-Type", outbound.ContentType(resp))
	w.WriteHeader(http.StatusOK)
	w.Write(buf)
}

func (g *gateway) fail(w http.ResponseWriter, r *http.Request, err error) {
	_, outbound := runtime.MarshalerForRequest(g.mux, r)
	runtime.HTTPError(r.Context(), g.mux, outbound, w, r, err)
}

func paging(size, before string, pageSize *int, beforeSeq *int64) error {
	if size != "" {
		n, err := strconv.Atoi(size)
		if err != nil {
			return status.Errorf(codes.InvalidArgument, "invalid page_size %q", size)
		}
		*pageSize = n
	}
	if before != "" {
		n, err := strconv.ParseInt(before, 10, 64)
		if err != nil {
			return status.Errorf(codes.InvalidArgument, "invalid before_sequence %q", before)
		}
		*beforeSeq = n
	}
	return nil
}
