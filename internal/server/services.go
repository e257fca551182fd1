package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"VaultLedger/internal/core"
	"VaultLedger/internal/ingestion"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/query"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	QueryServiceName  = "vaultledger.v1.VaultQuery"
	IngestServiceName = "vaultledger.v1.VaultIngest"
	AdminServiceName  = "vaultledger.v1.VaultAdmin"

	defaultPageSize = 50
	maxPageSize     = 500
)

// --- Backends ---

// QueryBackend reads projections. *query.QueryService implements it.
type QueryBackend interface {
	GetVault(ctx context.Context) (*query.VaultResponse, error)
	ListStrategies(ctx context.Context) ([]query.StrategyResponse, error)
	GetShares(ctx context.Context, holder uuid.UUID) (*query.SharesResponse, error)
	GetHarvestHistory(ctx context.Context, strategyID *uuid.UUID, limit int, beforeSequence *int64) ([]query.HarvestResponse, error)
	GetJournalHistory(ctx context.Context, accountPrefix string, limit int, beforeSequence *int64) ([]query.JournalHistoryEntry, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

// CommandSubmitter applies one JSON command. *ingestion.GRPCIngestService
// implements it.
type CommandSubmitter interface {
	SubmitCommand(ctx context.Context, eventType string, data []byte) (*ingestion.CommandReceipt, error)
}

// AdminBackend runs operator tasks against the running service.
type AdminBackend interface {
	RebuildProjections(ctx context.Context) error
	LatestSequence(ctx context.Context) (int64, error)
	TakeSnapshot(ctx context.Context) (int64, error)
}

// --- Messages ---

type GetVaultRequest struct{}

type ListStrategiesRequest struct{}

type ListStrategiesResponse struct {
	Strategies []query.StrategyResponse `json:"strategies"`
}

type GetSharesRequest struct {
	Holder string `json:"holder"`
}

type ListHarvestsRequest struct {
	StrategyID     string `json:"strategy_id,omitempty"`
	PageSize       int    `json:"page_size,omitempty"`
	BeforeSequence int64  `json:"before_sequence,omitempty"`
}

type ListHarvestsResponse struct {
	Harvests []query.HarvestResponse `json:"harvests"`
}

// ListJournalsRequest filters by account path prefix, e.g. "holder:<id>:"
// or "strategy:<id>:". Holder is a shorthand for the first.
type ListJournalsRequest struct {
	Holder         string `json:"holder,omitempty"`
	Account        string `json:"account,omitempty"`
	PageSize       int    `json:"page_size,omitempty"`
	BeforeSequence int64  `json:"before_sequence,omitempty"`
}

type ListJournalsResponse struct {
	Journals []query.JournalHistoryEntry `json:"journals"`
}

type SubmitCommandRequest struct {
	EventType string          `json:"event_type"`
	Command   json.RawMessage `json:"command"`
}

type VerifyIntegrityRequest struct{}

type RebuildProjectionsRequest struct{}

type RebuildProjectionsResponse struct {
	Done bool `json:"done"`
}

type GetEventLogInfoRequest struct{}

type GetEventLogInfoResponse struct {
	LastSequence int64 `json:"last_sequence"`
}

type TakeSnapshotRequest struct{}

type TakeSnapshotResponse struct {
	Sequence int64 `json:"sequence"`
}

// --- Service implementation ---

// ledgerServer implements the query, ingest and admin services over the
// backends. Every method is counted and timed per endpoint.
type ledgerServer struct {
	query   QueryBackend
	ingest  CommandSubmitter
	admin   AdminBackend
	metrics *observability.Metrics
}

func (s *ledgerServer) GetVault(ctx context.Context, _ *GetVaultRequest) (*query.VaultResponse, error) {
	return instrument(s, "GetVault", func() (*query.VaultResponse, error) {
		return s.query.GetVault(ctx)
	})
}

func (s *ledgerServer) ListStrategies(ctx context.Context, _ *ListStrategiesRequest) (*ListStrategiesResponse, error) {
	return instrument(s, "ListStrategies", func() (*ListStrategiesResponse, error) {
		out, err := s.query.ListStrategies(ctx)
		if err != nil {
			return nil, err
		}
		return &ListStrategiesResponse{Strategies: out}, nil
	})
}

func (s *ledgerServer) GetShares(ctx context.Context, req *GetSharesRequest) (*query.SharesResponse, error) {
	return instrument(s, "GetShares", func() (*query.SharesResponse, error) {
		holder, err := parseID("holder", req.Holder)
		if err != nil {
			return nil, err
		}
		return s.query.GetShares(ctx, holder)
	})
}

func (s *ledgerServer) ListHarvests(ctx context.Context, req *ListHarvestsRequest) (*ListHarvestsResponse, error) {
	return instrument(s, "ListHarvests", func() (*ListHarvestsResponse, error) {
		var strategyID *uuid.UUID
		if req.StrategyID != "" {
			id, err := parseID("strategy_id", req.StrategyID)
			if err != nil {
				return nil, err
			}
			strategyID = &id
		}
		out, err := s.query.GetHarvestHistory(ctx, strategyID, pageSize(req.PageSize), cursor(req.BeforeSequence))
		if err != nil {
			return nil, err
		}
		return &ListHarvestsResponse{Harvests: out}, nil
	})
}

func (s *ledgerServer) ListJournals(ctx context.Context, req *ListJournalsRequest) (*ListJournalsResponse, error) {
	return instrument(s, "ListJournals", func() (*ListJournalsResponse, error) {
		prefix := req.Account
		if req.Holder != "" {
			holder, err := parseID("holder", req.Holder)
			if err != nil {
				return nil, err
			}
			prefix = fmt.Sprintf("holder:%s:", holder)
		}
		if prefix == "" {
			return nil, status.Error(codes.InvalidArgument, "holder or account is required")
		}
		out, err := s.query.GetJournalHistory(ctx, prefix, pageSize(req.PageSize), cursor(req.BeforeSequence))
		if err != nil {
			return nil, err
		}
		return &ListJournalsResponse{Journals: out}, nil
	})
}

func (s *ledgerServer) SubmitCommand(ctx context.Context, req *SubmitCommandRequest) (*ingestion.CommandReceipt, error) {
	return instrument(s, "SubmitCommand", func() (*ingestion.CommandReceipt, error) {
		if req.EventType == "" {
			return nil, status.Error(codes.InvalidArgument, "event_type is required")
		}
		return s.ingest.SubmitCommand(ctx, req.EventType, req.Command)
	})
}

func (s *ledgerServer) VerifyIntegrity(ctx context.Context, _ *VerifyIntegrityRequest) (*query.IntegrityReport, error) {
	return instrument(s, "VerifyIntegrity", func() (*query.IntegrityReport, error) {
		return s.query.VerifyIntegrity(ctx)
	})
}

func (s *ledgerServer) RebuildProjections(ctx context.Context, _ *RebuildProjectionsRequest) (*RebuildProjectionsResponse, error) {
	return instrument(s, "RebuildProjections", func() (*RebuildProjectionsResponse, error) {
		if err := s.admin.RebuildProjections(ctx); err != nil {
			return nil, err
		}
		return &RebuildProjectionsResponse{Done: true}, nil
	})
}

func (s *ledgerServer) GetEventLogInfo(ctx context.Context, _ *GetEventLogInfoRequest) (*GetEventLogInfoResponse, error) {
	return instrument(s, "GetEventLogInfo", func() (*GetEventLogInfoResponse, error) {
		seq, err := s.admin.LatestSequence(ctx)
		if err != nil {
			return nil, err
		}
		return &GetEventLogInfoResponse{LastSequence: seq}, nil
	})
}

func (s *ledgerServer) TakeSnapshot(ctx context.Context, _ *TakeSnapshotRequest) (*TakeSnapshotResponse, error) {
	return instrument(s, "TakeSnapshot", func() (*TakeSnapshotResponse, error) {
		seq, err := s.admin.TakeSnapshot(ctx)
		if err != nil {
			return nil, err
		}
		return &TakeSnapshotResponse{Sequence: seq}, nil
	})
}

func instrument[T any](s *ledgerServer, endpoint string, fn func() (T, error)) (T, error) {
	start := time.Now()
	out, err := fn()
	err = toStatus(err)
	if s.metrics != nil {
		s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		code := status.Code(err)
		result := "ok"
		if err != nil {
			result = "error"
			s.metrics.QueryErrors.WithLabelValues(endpoint, code.String()).Inc()
		}
		s.metrics.QueryRequests.WithLabelValues(endpoint, result).Inc()
	}
	return out, err
}

// toStatus maps package sentinels to gRPC codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, query.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ingestion.ErrMalformedCommand):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, core.ErrSequencerStopped):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func parseID(field, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "%s is required", field)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid %s: %v", field, err)
	}
	return id, nil
}

func pageSize(n int) int {
	if n <= 0 {
		return defaultPageSize
	}
	return min(n, maxPageSize)
}

func cursor(seq int64) *int64 {
	if seq <= 0 {
		return nil
	}
	return &seq
}

// --- Service descriptors ---

// The vault services have no .proto; their messages are the Go structs above
// carried by the JSON codec.

type VaultQueryServer interface {
	GetVault(context.Context, *GetVaultRequest) (*query.VaultResponse, error)
	ListStrategies(context.Context, *ListStrategiesRequest) (*ListStrategiesResponse, error)
	GetShares(context.Context, *GetSharesRequest) (*query.SharesResponse, error)
	ListHarvests(context.Context, *ListHarvestsRequest) (*ListHarvestsResponse, error)
	ListJournals(context.Context, *ListJournalsRequest) (*ListJournalsResponse, error)
}

type VaultIngestServer interface {
	SubmitCommand(context.Context, *SubmitCommandRequest) (*ingestion.CommandReceipt, error)
}

type VaultAdminServer interface {
	VerifyIntegrity(context.Context, *VerifyIntegrityRequest) (*query.IntegrityReport, error)
	RebuildProjections(context.Context, *RebuildProjectionsRequest) (*RebuildProjectionsResponse, error)
	GetEventLogInfo(context.Context, *GetEventLogInfoRequest) (*GetEventLogInfoResponse, error)
	TakeSnapshot(context.Context, *TakeSnapshotRequest) (*TakeSnapshotResponse, error)
}

var queryServiceDesc = grpc.ServiceDesc{
	ServiceName: QueryServiceName,
	HandlerType: (*VaultQueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetVault", Handler: unary(QueryServiceName, "GetVault", VaultQueryServer.GetVault)},
		{MethodName: "ListStrategies", Handler: unary(QueryServiceName, "ListStrategies", VaultQueryServer.ListStrategies)},
		{MethodName: "GetShares", Handler: unary(QueryServiceName, "GetShares", VaultQueryServer.GetShares)},
		{MethodName: "ListHarvests", Handler: unary(QueryServiceName, "ListHarvests", VaultQueryServer.ListHarvests)},
		{MethodName: "ListJournals", Handler: unary(QueryServiceName, "ListJournals", VaultQueryServer.ListJournals)},
	},
	Metadata: "vaultledger/v1/query",
}

var ingestServiceDesc = grpc.ServiceDesc{
	ServiceName: IngestServiceName,
	HandlerType: (*VaultIngestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitCommand", Handler: unary(IngestServiceName, "SubmitCommand", VaultIngestServer.SubmitCommand)},
	},
	Metadata: "vaultledger/v1/ingest",
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: AdminServiceName,
	HandlerType: (*VaultAdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "VerifyIntegrity", Handler: unary(AdminServiceName, "VerifyIntegrity", VaultAdminServer.VerifyIntegrity)},
		{MethodName: "RebuildProjections", Handler: unary(AdminServiceName, "RebuildProjections", VaultAdminServer.RebuildProjections)},
		{MethodName: "GetEventLogInfo", Handler: unary(AdminServiceName, "GetEventLogInfo", VaultAdminServer.GetEventLogInfo)},
		{MethodName: "TakeSnapshot", Handler: unary(AdminServiceName, "TakeSnapshot", VaultAdminServer.TakeSnapshot)},
	},
	Metadata: "vaultledger/v1/admin",
}

// unary adapts a typed method to a grpc.MethodHandler.
func unary[S, Req, Resp any](service, method string, call func(S, context.Context, *Req) (Resp, error)) grpc.MethodHandler {
	fullMethod := "/" + service + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(S), ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, req, info, func(ctx context.Context, r any) (any, error) {
			return call(srv.(S), ctx, r.(*Req))
		})
	}
}
