package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/minutes/internal/grpcserver"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	flagMeterAddr      = "meter-addr"
	flagUserID         = "user-id"
	flagMeterTimeout   = "timeout"
	defaultMeterAddr   = "localhost:7000"
	defaultMeterWaitOn = 3 * time.Second
)

func newBalanceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Print a user's remaining minutes via the meter gRPC service",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString(flagMeterAddr)
			userID, _ := cmd.Flags().GetString(flagUserID)
			timeout, _ := cmd.Flags().GetDuration(flagMeterTimeout)
			if strings.TrimSpace(userID) == "" {
				return fmt.Errorf("%s is required", flagUserID)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return printBalance(ctx, cmd, addr, userID)
		},
	}
	cmd.Flags().String(flagMeterAddr, defaultMeterAddr, "minutesd gRPC address")
	cmd.Flags().String(flagUserID, "", "user id to look up (required)")
	cmd.Flags().Duration(flagMeterTimeout, defaultMeterWaitOn, "RPC timeout")
	return cmd
}

func printBalance(ctx context.Context, cmd *cobra.Command, addr string, userID string) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial meter: %w", err)
	}
	defer conn.Close()

	client := grpcserver.NewMeterServiceClient(conn)
	gate, err := client.CanStart(ctx, &grpcserver.BalanceRequest{UserID: strings.TrimSpace(userID)})
	if err != nil {
		return fmt.Errorf("balance: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tcan_start=%t\n", userID, strconv.FormatFloat(gate.RemainingMinutes, 'f', -1, 64), gate.Allowed)
	return nil
}
