package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fullstorydev/grpcurl"
	"github.com/jhump/protoreflect/grpcreflect"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
)

var servicesCmd = &cobra.Command{
	Use:   "services",
	Short: "List gRPC services exposed through reflection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		conn, err := dial(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()

		services, err := grpcurl.ListServices(reflectionSource(ctx, conn))
		if err != nil {
			return fmt.Errorf("list services: %w", err)
		}
		for _, service := range services {
			fmt.Fprintln(cmd.OutOrStdout(), service)
		}
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health [service]",
	Short: "Query grpc.health.v1 for the bridge or one device (flair/vent/<id>)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		service := ""
		if len(args) == 1 {
			service = args[0]
		}
		watch, _ := cmd.Flags().GetBool("watch")

		dialCtx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		conn, err := dial(dialCtx)
		cancel()
		if err != nil {
			return err
		}
		defer conn.Close()

		client := healthpb.NewHealthClient(conn)
		req := &healthpb.HealthCheckRequest{Service: service}
		out := newOutput(cmd)
		if !watch {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			resp, err := client.Check(ctx, req)
			if err != nil {
				return fmt.Errorf("health check: %w", err)
			}
			return printHealth(out, service, resp)
		}

		stream, err := client.Watch(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("health watch: %w", err)
		}
		for {
			resp, err := stream.Recv()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("health watch: %w", err)
			}
			if err := printHealth(out, service, resp); err != nil {
				return err
			}
		}
	},
}

func init() {
	healthCmd.Flags().Bool("watch", false, "Stream status changes until interrupted")
	rootCmd.AddCommand(servicesCmd, healthCmd)
}

func printHealth(out outputMode, service string, resp *healthpb.HealthCheckResponse) error {
	if out.format == formatTable {
		if service == "" {
			service = "(overall)"
		}
		out.table([][]string{{service, resp.GetStatus().String()}})
		return nil
	}
	data, err := protojson.Marshal(resp)
	if err != nil {
		return fmt.Errorf("format health: %w", err)
	}
	return out.raw(data)
}

func dial(ctx context.Context) (*grpc.ClientConn, error) {
	addr := resolveGRPCAddr()
	conn, err := grpcurl.BlockingDial(ctx, "tcp", addr, insecure.NewCredentials())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

func reflectionSource(ctx context.Context, conn *grpc.ClientConn) grpcurl.DescriptorSource {
	client := grpcreflect.NewClientAuto(ctx, conn)
	return grpcurl.DescriptorSourceFromServer(ctx, client)
}
