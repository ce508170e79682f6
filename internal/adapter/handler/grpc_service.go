package handler

import (
	"context"

	"google.golang.org/grpc"

	"github.com/RicardoFernandes2004/LumePatch/internal/core/domain"
	"github.com/RicardoFernandes2004/LumePatch/internal/core/service"
)

const LedgerServiceName = "lumepatch.ledger.v1.Ledger"

type ConsumeRequest struct {
	RequestID string  `json:"request_id"`
	SKU       string  `json:"sku" validate:"required"`
	Quantity  int     `json:"quantity" validate:"gt=0"`
	User      string  `json:"user"`
	Image     string  `json:"image"`
	Score     float64 `json:"score" validate:"gte=0,lte=1"`
}

type ConsumeResponse struct {
	Success     bool                `json:"success"`
	Message     string              `json:"message"`
	Code        string              `json:"code,omitempty"`
	Transaction *domain.Transaction `json:"transaction,omitempty"`
}

// ConsumeBatchRequest items are not validated here; the ledger reports a bad
// item in its own outcome.
type ConsumeBatchRequest struct {
	RequestID string           `json:"request_id"`
	Items     []ConsumeRequest `json:"items" validate:"required,min=1"`
}

type BatchResponse struct {
	Success  bool      `json:"success"`
	Message  string    `json:"message"`
	Code     string    `json:"code,omitempty"`
	Outcomes []Outcome `json:"outcomes"`
}

type RestockRequest struct {
	SKU        string `json:"sku" validate:"required"`
	Quantity   int    `json:"quantity" validate:"gt=0"`
	LotID      string `json:"lotId"`
	ReceivedAt string `json:"receivedAt"`
	User       string `json:"user"`
}

type RestockResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
	Lot     *domain.Lot `json:"lot,omitempty"`
}

type CorrectRequest struct {
	TransactionID string `json:"transactionId" validate:"required"`
	Label         string `json:"label" validate:"required"`
	Quantity      int    `json:"quantity" validate:"gte=0"`
	User          string `json:"user"`
}

type CorrectResponse struct {
	Success              bool                               `json:"success"`
	Message              string                             `json:"message"`
	Code                 string                             `json:"code,omitempty"`
	ManualReconciliation bool                               `json:"manualReconciliation,omitempty"`
	FailForward          *domain.CorrectionFailForwardError `json:"failForward,omitempty"`
	Transaction          *domain.Transaction                `json:"transaction,omitempty"`
}

type StockRequest struct {
	SKU string `json:"sku" validate:"required"`
}

type StockResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Code    string   `json:"code,omitempty"`
	Level   SKULevel `json:"level"`
}

type SummaryRequest struct{}

type SummaryResponse struct {
	Success bool                 `json:"success"`
	Message string               `json:"message"`
	Code    string               `json:"code,omitempty"`
	Summary service.StockSummary `json:"summary"`
}

type SubmitDetectionsRequest struct {
	Detections []DetectionInput `json:"detections" validate:"dive"`
}

type SubmitDetectionsResponse struct {
	Success  bool                `json:"success"`
	Message  string              `json:"message"`
	Pending  bool                `json:"pending"`
	Accepted []service.Detection `json:"accepted"`
}

type ConfirmDetectionsRequest struct {
	RequestID string `json:"request_id"`
	Quantity  int    `json:"quantity"`
	User      string `json:"user"`
}

type HistoryRequest struct{}

type HistoryResponse struct {
	Success      bool                 `json:"success"`
	Message      string               `json:"message"`
	Code         string               `json:"code,omitempty"`
	Transactions []domain.Transaction `json:"transactions"`
}

// LedgerServer is served over gRPC with the JSON codec.
type LedgerServer interface {
	Consume(context.Context, *ConsumeRequest) (*ConsumeResponse, error)
	ConsumeBatch(context.Context, *ConsumeBatchRequest) (*BatchResponse, error)
	Restock(context.Context, *RestockRequest) (*RestockResponse, error)
	Correct(context.Context, *CorrectRequest) (*CorrectResponse, error)
	GetStock(context.Context, *StockRequest) (*StockResponse, error)
	Summary(context.Context, *SummaryRequest) (*SummaryResponse, error)
	SubmitDetections(context.Context, *SubmitDetectionsRequest) (*SubmitDetectionsResponse, error)
	ConfirmDetections(context.Context, *ConfirmDetectionsRequest) (*BatchResponse, error)
	History(context.Context, *HistoryRequest) (*HistoryResponse, error)
}

func unary[Req, Resp any](name string, call func(LedgerServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + LedgerServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LedgerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: LedgerServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Consume", LedgerServer.Consume),
		unary("ConsumeBatch", LedgerServer.ConsumeBatch),
		unary("Restock", LedgerServer.Restock),
		unary("Correct", LedgerServer.Correct),
		unary("GetStock", LedgerServer.GetStock),
		unary("Summary", LedgerServer.Summary),
		unary("SubmitDetections", LedgerServer.SubmitDetections),
		unary("ConfirmDetections", LedgerServer.ConfirmDetections),
		unary("History", LedgerServer.History),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ledger",
}

func RegisterLedgerServer(s grpc.ServiceRegistrar, srv LedgerServer) {
	s.RegisterService(&LedgerServiceDesc, srv)
}

// LedgerClient calls a LedgerServer. Every call uses the JSON codec.
type LedgerClient struct {
	cc grpc.ClientConnInterface
}

func NewLedgerClient(cc grpc.ClientConnInterface) *LedgerClient {
	return &LedgerClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, c *LedgerClient, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+LedgerServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerClient) Consume(ctx context.Context, in *ConsumeRequest, opts ...grpc.CallOption) (*ConsumeResponse, error) {
	return invoke[ConsumeResponse](ctx, c, "Consume", in, opts)
}

func (c *LedgerClient) ConsumeBatch(ctx context.Context, in *ConsumeBatchRequest, opts ...grpc.CallOption) (*BatchResponse, error) {
	return invoke[BatchResponse](ctx, c, "ConsumeBatch", in, opts)
}

func (c *LedgerClient) Restock(ctx context.Context, in *RestockRequest, opts ...grpc.CallOption) (*RestockResponse, error) {
	return invoke[RestockResponse](ctx, c, "Restock", in, opts)
}

func (c *LedgerClient) Correct(ctx context.Context, in *CorrectRequest, opts ...grpc.CallOption) (*CorrectResponse, error) {
	return invoke[CorrectResponse](ctx, c, "Correct", in, opts)
}

func (c *LedgerClient) GetStock(ctx context.Context, in *StockRequest, opts ...grpc.CallOption) (*StockResponse, error) {
	return invoke[StockResponse](ctx, c, "GetStock", in, opts)
}

func (c *LedgerClient) Summary(ctx context.Context, in *SummaryRequest, opts ...grpc.CallOption) (*SummaryResponse, error) {
	return invoke[SummaryResponse](ctx, c, "Summary", in, opts)
}

func (c *LedgerClient) SubmitDetections(ctx context.Context, in *SubmitDetectionsRequest, opts ...grpc.CallOption) (*SubmitDetectionsResponse, error) {
	return invoke[SubmitDetectionsResponse](ctx, c, "SubmitDetections", in, opts)
}

func (c *LedgerClient) ConfirmDetections(ctx context.Context, in *ConfirmDetectionsRequest, opts ...grpc.CallOption) (*BatchResponse, error) {
	return invoke[BatchResponse](ctx, c, "ConfirmDetections", in, opts)
}

func (c *LedgerClient) History(ctx context.Context, in *HistoryRequest, opts ...grpc.CallOption) (*HistoryResponse, error) {
	return invoke[HistoryResponse](ctx, c, "History", in, opts)
}
