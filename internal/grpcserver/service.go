package grpcserver

import (
	"context"

	"google.golang.org/grpc"
)

const (
	serviceName          = "minutes.v1.MeterService"
	methodGetBalance     = "/" + serviceName + "/GetBalance"
	methodCanStart       = "/" + serviceName + "/CanStart"
	methodListPackages   = "/" + serviceName + "/ListPackages"
	serviceMetadataLabel = "minutes/v1/meter"
)

// BalanceRequest identifies a user.
type BalanceRequest struct {
	UserID string `json:"user_id"`
}

// BalanceResponse carries the remaining minutes.
type BalanceResponse struct {
	UserID           string  `json:"user_id"`
	RemainingMinutes float64 `json:"remaining_minutes"`
}

// CanStartResponse answers the conversation gate.
type CanStartResponse struct {
	Allowed          bool    `json:"allowed"`
	RemainingMinutes float64 `json:"remaining_minutes"`
}

// ListPackagesRequest is empty.
type ListPackagesRequest struct{}

// PackageMessage is one catalog entry. Price is a decimal string.
type PackageMessage struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       string  `json:"price"`
	Currency    string  `json:"currency"`
	Minutes     float64 `json:"minutes"`
	Popular     bool    `json:"popular"`
}

// ListPackagesResponse lists the catalog.
type ListPackagesResponse struct {
	Packages []PackageMessage `json:"packages"`
}

// MeterServiceServer is the server API of minutes.v1.MeterService.
type MeterServiceServer interface {
	GetBalance(ctx context.Context, request *BalanceRequest) (*BalanceResponse, error)
	CanStart(ctx context.Context, request *BalanceRequest) (*CanStartResponse, error)
	ListPackages(ctx context.Context, request *ListPackagesRequest) (*ListPackagesResponse, error)
}

// RegisterMeterServiceServer registers server on registrar.
func RegisterMeterServiceServer(registrar grpc.ServiceRegistrar, server MeterServiceServer) {
	registrar.RegisterService(&meterServiceDesc, server)
}

var meterServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*MeterServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetBalance", Handler: getBalanceHandler},
		{MethodName: "CanStart", Handler: canStartHandler},
		{MethodName: "ListPackages", Handler: listPackagesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: serviceMetadataLabel,
}

func getBalanceHandler(server any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	request := new(BalanceRequest)
	if err := decode(request); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return server.(MeterServiceServer).GetBalance(ctx, request)
	}
	info := &grpc.UnaryServerInfo{Server: server, FullMethod: methodGetBalance}
	return interceptor(ctx, request, info, func(ctx context.Context, request any) (any, error) {
		return server.(MeterServiceServer).GetBalance(ctx, request.(*BalanceRequest))
	})
}

func canStartHandler(server any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	request := new(BalanceRequest)
	if err := decode(request); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return server.(MeterServiceServer).CanStart(ctx, request)
	}
	info := &grpc.UnaryServerInfo{Server: server, FullMethod: methodCanStart}
	return interceptor(ctx, request, info, func(ctx context.Context, request any) (any, error) {
		return server.(MeterServiceServer).CanStart(ctx, request.(*BalanceRequest))
	})
}

func listPackagesHandler(server any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	request := new(ListPackagesRequest)
	if err := decode(request); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return server.(MeterServiceServer).ListPackages(ctx, request)
	}
	info := &grpc.UnaryServerInfo{Server: server, FullMethod: methodListPackages}
	return interceptor(ctx, request, info, func(ctx context.Context, request any) (any, error) {
		return server.(MeterServiceServer).ListPackages(ctx, request.(*ListPackagesRequest))
	})
}

// MeterServiceClient calls minutes.v1.MeterService.
type MeterServiceClient struct {
	conn grpc.ClientConnInterface
}

// NewMeterServiceClient wraps a client connection.
func NewMeterServiceClient(conn grpc.ClientConnInterface) *MeterServiceClient {
	return &MeterServiceClient{conn: conn}
}

func (client *MeterServiceClient) GetBalance(ctx context.Context, request *BalanceRequest, options ...grpc.CallOption) (*BalanceResponse, error) {
	response := new(BalanceResponse)
	if err := client.conn.Invoke(ctx, methodGetBalance, request, response, withCodec(options)...); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *MeterServiceClient) CanStart(ctx context.Context, request *BalanceRequest, options ...grpc.CallOption) (*CanStartResponse, error) {
	response := new(CanStartResponse)
	if err := client.conn.Invoke(ctx, methodCanStart, request, response, withCodec(options)...); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *MeterServiceClient) ListPackages(ctx context.Context, request *ListPackagesRequest, options ...grpc.CallOption) (*ListPackagesResponse, error) {
	response := new(ListPackagesResponse)
	if err := client.conn.Invoke(ctx, methodListPackages, request, response, withCodec(options)...); err != nil {
		return nil, err
	}
	return response, nil
}

func withCodec(options []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, options...)
}
