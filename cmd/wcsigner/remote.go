package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	operatorapi "github.com/aegis-sign/wcsigner/internal/api"
)

func newPairCmd(opts *rootOptions) *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "pair <uri>",
		Short: "Ask a running wcsigner to pair with a wc: URI",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = loadClientConfig(opts.configPath).Server.HTTPAddr
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			topic, err := pairOverHTTP(ctx, addr, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), topic)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "operator HTTP address (defaults to server.http_addr)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	return cmd
}

func pairOverHTTP(ctx context.Context, addr, uri string) (string, error) {
	if addr == "" {
		return "", fmt.Errorf("operator HTTP address is not configured")
	}
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	payload, err := json.Marshal(map[string]string{"uri": uri})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(base, "/")+"/pair", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call operator api: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Topic   string `json:"topic"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode operator response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("pair failed (%s): %s", body.Code, body.Message)
	}
	return body.Topic, nil
}

func newSessionsCmd(opts *rootOptions) *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions of a running wcsigner over gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = loadClientConfig(opts.configPath).Server.GRPCAddr
			}
			if addr == "" {
				return fmt.Errorf("operator gRPC address is not configured")
			}
			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			sessions, err := operatorapi.NewOperatorClient(conn).ListSessions(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sessions)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "operator gRPC address (defaults to server.grpc_addr)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	return cmd
}
