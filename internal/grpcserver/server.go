package grpcserver

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/minutes/pkg/minutes"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	errorInvalidUserID = "invalid_user_id"
	errorUnknownUser   = "unknown_user"
)

// MeterServer exposes balance and catalog lookups over gRPC.
type MeterServer struct {
	meter   *minutes.Meter
	catalog *minutes.Catalog
}

var _ MeterServiceServer = (*MeterServer)(nil)

// NewMeterServer constructs the gRPC meter service.
func NewMeterServer(meter *minutes.Meter, catalog *minutes.Catalog) *MeterServer {
	return &MeterServer{meter: meter, catalog: catalog}
}

func (server *MeterServer) GetBalance(ctx context.Context, request *BalanceRequest) (*BalanceResponse, error) {
	userID, err := minutes.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	balance, err := server.meter.Balance(ctx, userID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return &BalanceResponse{UserID: userID.String(), RemainingMinutes: balance.Float64()}, nil
}

func (server *MeterServer) CanStart(ctx context.Context, request *BalanceRequest) (*CanStartResponse, error) {
	userID, err := minutes.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	balance, err := server.meter.Balance(ctx, userID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return &CanStartResponse{Allowed: balance > 0, RemainingMinutes: balance.Float64()}, nil
}

func (server *MeterServer) ListPackages(ctx context.Context, _ *ListPackagesRequest) (*ListPackagesResponse, error) {
	packages, err := server.catalog.ListPackages(ctx)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	response := &ListPackagesResponse{Packages: make([]PackageMessage, 0, len(packages))}
	for _, item := range packages {
		response.Packages = append(response.Packages, PackageMessage{
			ID:          item.ID.Int64(),
			Name:        item.Name,
			Description: item.Description,
			Price:       item.Price.StringFixed(2),
			Currency:    item.Currency,
			Minutes:     item.Minutes.Float64(),
			Popular:     item.Popular,
		})
	}
	return response, nil
}

func mapToGRPCError(source error) error {
	if errors.Is(source, minutes.ErrInvalidUserID) {
		return status.Error(codes.InvalidArgument, errorInvalidUserID)
	}
	if errors.Is(source, minutes.ErrUnknownUser) {
		return status.Error(codes.NotFound, errorUnknownUser)
	}
	if errors.Is(source, minutes.ErrValidation) {
		return status.Error(codes.InvalidArgument, source.Error())
	}
	if errors.Is(source, minutes.ErrNotFound) {
		return status.Error(codes.NotFound, source.Error())
	}
	if errors.Is(source, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, source.Error())
	}
	return status.Error(codes.Internal, source.Error())
}
