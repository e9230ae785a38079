package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vibast-solutions/ms-go-carwash-payments/app/mapper"
	"github.com/vibast-solutions/ms-go-carwash-payments/app/service"
	"github.com/vibast-solutions/ms-go-carwash-payments/app/types"
)

const ServiceName = "carwash.payments.PaymentsService"

type PaymentsServiceServer interface {
	CreateInvoice(ctx context.Context, req *types.CreateInvoiceRequest) (*types.CreateInvoiceResponse, error)
	GetPaymentStatus(ctx context.Context, req *types.PaymentStatusRequest) (*types.PaymentStatusResponse, error)
}

var PaymentsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PaymentsServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateInvoice", Handler: createInvoiceHandler},
		{MethodName: "GetPaymentStatus", Handler: getPaymentStatusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "carwash/payments",
}

func RegisterPaymentsServiceServer(s grpc.ServiceRegistrar, srv PaymentsServiceServer) {
	s.RegisterService(&PaymentsServiceDesc, srv)
}

func createInvoiceHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(types.CreateInvoiceRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PaymentsServiceServer).CreateInvoice(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/CreateInvoice"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PaymentsServiceServer).CreateInvoice(ctx, req.(*types.CreateInvoiceRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getPaymentStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(types.PaymentStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PaymentsServiceServer).GetPaymentStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetPaymentStatus"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PaymentsServiceServer).GetPaymentStatus(ctx, req.(*types.PaymentStatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

type Server struct {
	paymentService *service.PaymentService
}

func NewServer(paymentService *service.PaymentService) *Server {
	return &Server{paymentService: paymentService}
}

func (s *Server) CreateInvoice(ctx context.Context, req *types.CreateInvoiceRequest) (*types.CreateInvoiceResponse, error) {
	l := loggerWithContext(ctx)
	req.Normalize()
	if err := req.Validate(); err != nil {
		l.WithError(err).Debug("Create invoice validation failed")
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.paymentService.CreateInvoice(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			return nil, status.Error(codes.InvalidArgument, err.Error())
		case errors.Is(err, service.ErrEntityNotFound):
			return nil, status.Error(codes.NotFound, err.Error())
		case errors.Is(err, service.ErrAlreadyPaid):
			return nil, status.Error(codes.FailedPrecondition, err.Error())
		case errors.Is(err, service.ErrCreationInProgress):
			return nil, status.Error(codes.Aborted, err.Error())
		case errors.Is(err, service.ErrGatewayUnavailable), errors.Is(err, service.ErrGatewayRejected):
			l.WithError(err).Warn("Create invoice gateway failure")
			return nil, status.Error(codes.Unavailable, err.Error())
		default:
			l.WithError(err).Error("Create invoice failed")
			return nil, status.Error(codes.Internal, "internal server error")
		}
	}

	return mapper.IntentToCreateResponse(item), nil
}

func (s *Server) GetPaymentStatus(ctx context.Context, req *types.PaymentStatusRequest) (*types.PaymentStatusResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.paymentService.GetStatus(ctx, req.GetEntityType(), req.GetEntityId())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrIntentNotFound):
			return nil, status.Error(codes.NotFound, "payment not found")
		case errors.Is(err, service.ErrInvalidRequest):
			return nil, status.Error(codes.InvalidArgument, err.Error())
		default:
			loggerWithContext(ctx).WithError(err).Error("Get payment status failed")
			return nil, status.Error(codes.Internal, "internal server error")
		}
	}

	return mapper.IntentToStatusResponse(item), nil
}

// Client calls PaymentsService over the JSON codec.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) CreateInvoice(ctx context.Context, req *types.CreateInvoiceRequest, opts ...grpc.CallOption) (*types.CreateInvoiceResponse, error) {
	out := new(types.CreateInvoiceResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/CreateInvoice", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetPaymentStatus(ctx context.Context, req *types.PaymentStatusRequest, opts ...grpc.CallOption) (*types.PaymentStatusResponse, error) {
	out := new(types.PaymentStatusResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/GetPaymentStatus", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
