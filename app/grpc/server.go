package grpc

import (
	"context"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-esim/app/entity"
	"github.com/vibast-solutions/ms-go-esim/app/service"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const opsServiceName = "esim.v1.OpsService"

type provisioningService interface {
	RunOrderRetryBatch(ctx context.Context) (service.RetryReport, error)
	RunProfileSyncBatch(ctx context.Context) (service.SyncReport, error)
	GetOrder(ctx context.Context, id uint64) (*entity.Order, error)
}

type readyEmailResender interface {
	ResendReadyEmail(ctx context.Context, orderID uint64) (service.Outcome, error)
}

// OpsService is the operator surface served over gRPC.
type OpsService interface {
	RetryNow(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SyncNow(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ResendReadyEmail(context.Context, *wrapperspb.UInt64Value) (*structpb.Struct, error)
	GetOrderStatus(context.Context, *wrapperspb.UInt64Value) (*structpb.Struct, error)
}

type Server struct {
	provisioning provisioningService
	resender     readyEmailResender
}

func NewServer(provisioning provisioningService, resender readyEmailResender) *Server {
	return &Server{provisioning: provisioning, resender: resender}
}

func Register(server grpc.ServiceRegistrar, svc OpsService) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: opsServiceName,
		HandlerType: (*OpsService)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "RetryNow", Handler: unaryHandler("RetryNow", func() *emptypb.Empty { return &emptypb.Empty{} }, svc.RetryNow)},
			{MethodName: "SyncNow", Handler: unaryHandler("SyncNow", func() *emptypb.Empty { return &emptypb.Empty{} }, svc.SyncNow)},
			{MethodName: "ResendReadyEmail", Handler: unaryHandler("ResendReadyEmail", func() *wrapperspb.UInt64Value { return &wrapperspb.UInt64Value{} }, svc.ResendReadyEmail)},
			{MethodName: "GetOrderStatus", Handler: unaryHandler("GetOrderStatus", func() *wrapperspb.UInt64Value { return &wrapperspb.UInt64Value{} }, svc.GetOrderStatus)},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "esim/v1/ops.proto",
	}, svc)
}

func (s *Server) RetryNow(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	report, err := s.provisioning.RunOrderRetryBatch(ctx)
	if err != nil {
		loggerWithContext(ctx).WithError(err).Error("Retry sweep failed")
		return nil, status.Error(codes.Internal, "retry sweep could not select orders")
	}

	return newStruct(map[string]any{
		"selected":      report.Selected,
		"provisioned":   report.Provisioned,
		"pending":       report.Pending,
		"failed":        report.Failed,
		"skipped":       report.Skipped,
		"errors":        report.Errors,
		"catch_up_sent": report.CatchUp.Sent + report.CatchUp.Mocked,
	})
}

func (s *Server) SyncNow(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	report, err := s.provisioning.RunProfileSyncBatch(ctx)
	if err != nil {
		loggerWithContext(ctx).WithError(err).Error("Profile sync failed")
		return nil, status.Error(codes.Internal, "profile sync could not select profiles")
	}

	return newStruct(map[string]any{
		"profiles":             report.Profiles,
		"profiles_updated":     report.ProfilesUpdated,
		"profile_failures":     report.ProfileFailures,
		"usage_chunks":         report.UsageChunks,
		"usage_chunk_failures": report.UsageChunkFailures,
		"usage_recorded":       report.UsageRecorded,
	})
}

func (s *Server) ResendReadyEmail(ctx context.Context, req *wrapperspb.UInt64Value) (*structpb.Struct, error) {
	if req.GetValue() == 0 {
		return nil, status.Error(codes.InvalidArgument, "invalid order id")
	}

	outcome, err := s.resender.ResendReadyEmail(ctx, req.GetValue())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound):
			return nil, status.Error(codes.NotFound, "order not found")
		case errors.Is(err, service.ErrProfileMissing), errors.Is(err, service.ErrNotificationInProgress):
			return nil, status.Error(codes.FailedPrecondition, err.Error())
		case errors.Is(err, service.ErrNotificationFailed):
			return nil, status.Error(codes.Unavailable, "email provider rejected the message")
		default:
			loggerWithContext(ctx).WithError(err).Error("Resend ready email failed")
			return nil, status.Error(codes.Internal, "internal server error")
		}
	}

	return newStruct(map[string]any{
		"order_id": float64(req.GetValue()),
		"outcome":  string(outcome),
	})
}

func (s *Server) GetOrderStatus(ctx context.Context, req *wrapperspb.UInt64Value) (*structpb.Struct, error) {
	if req.GetValue() == 0 {
		return nil, status.Error(codes.InvalidArgument, "invalid order id")
	}

	order, err := s.provisioning.GetOrder(ctx, req.GetValue())
	if err != nil {
		if errors.Is(err, service.ErrOrderNotFound) {
			return nil, status.Error(codes.NotFound, "order not found")
		}
		loggerWithContext(ctx).WithError(err).Error("Get order status failed")
		return nil, status.Error(codes.Internal, "internal server error")
	}

	fields := map[string]any{
		"order_id":           float64(order.ID),
		"status":             string(order.Status),
		"receipt_sent":       order.ReceiptSent,
		"provision_attempts": float64(order.ProvisionAttempts),
		"updated_at":         order.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if order.VendorOrderNumber != nil {
		fields["vendor_order_number"] = *order.VendorOrderNumber
	}
	if order.LastError != nil {
		fields["last_error"] = *order.LastError
	}
	return newStruct(fields)
}

func newStruct(fields map[string]any) (*structpb.Struct, error) {
	resp, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

func unaryHandler[Req proto.Message](method string, newReq func() Req, call func(context.Context, Req) (*structpb.Struct, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + opsServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := newReq()
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(Req)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return call(ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}
