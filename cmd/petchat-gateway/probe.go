// ABOUTME: Commands that query a running gateway over its admin HTTP and gRPC health endpoints
// ABOUTME: Implements the health and sessions subcommands

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/petchat-gateway/internal/session"
)

const probeTimeout = 5 * time.Second

func newHealthCmd(load configLoader) *cobra.Command {
	var useGRPC bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check gateway health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
			defer cancel()

			if useGRPC {
				if cfg.Server.GRPCAddr == "" {
					return fmt.Errorf("server.grpc_addr is not configured")
				}
				return checkGRPCHealth(ctx, cmd.OutOrStdout(), cfg.Server.GRPCAddr)
			}
			if cfg.Server.HTTPAddr == "" {
				return fmt.Errorf("server.http_addr is not configured")
			}
			return checkHTTPHealth(ctx, cmd.OutOrStdout(), "http://"+cfg.Server.HTTPAddr)
		},
	}
	cmd.Flags().BoolVar(&useGRPC, "grpc", false, "probe the gRPC health service instead of HTTP")
	return cmd
}

func checkHTTPHealth(ctx context.Context, out io.Writer, baseURL string) error {
	body, err := get(ctx, baseURL+"/health/ready")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	_, err = fmt.Fprintln(out, string(body))
	return err
}

func checkGRPCHealth(ctx context.Context, out io.Writer, addr string) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dialing %s: %w", addr, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("unhealthy: %s", resp.GetStatus())
	}
	_, err = fmt.Fprintln(out, "healthy")
	return err
}

func newSessionsCmd(load configLoader) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List connected chat sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := load()
			if err != nil {
				return err
			}
			if cfg.Server.HTTPAddr == "" {
				return fmt.Errorf("server.http_addr is not configured")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
			defer cancel()
			return listSessions(ctx, cmd.OutOrStdout(), "http://"+cfg.Server.HTTPAddr, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}

func listSessions(ctx context.Context, out io.Writer, baseURL string, asJSON bool) error {
	body, err := get(ctx, baseURL+"/api/sessions")
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	if asJSON {
		_, err = fmt.Fprintln(out, string(body))
		return err
	}

	var sessions []session.Info
	if err := json.Unmarshal(body, &sessions); err != nil {
		return fmt.Errorf("decoding sessions: %w", err)
	}
	if len(sessions) == 0 {
		_, err = fmt.Fprintln(out, "no sessions")
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "IDENTITY\tJOINED\tMESSAGES")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", s.Identity, s.JoinedAt.Local().Format(time.DateTime), s.MessageCount)
	}
	return tw.Flush()
}

// get performs a GET and returns the body, failing on non-2xx statuses.
func get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}
	return body, nil
}
