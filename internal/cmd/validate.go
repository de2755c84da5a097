package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ponderengine/core/internal/config"
	"github.com/ponderengine/core/internal/reorgstore"
	"github.com/ponderengine/core/internal/schema"
)

const defaultHTTPTimeout = 8 * time.Second

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate config and ping every chain's RPC endpoint and the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("config invalid: %w", err)
			}
			fmt.Fprintf(out, "config OK (version %d)\n", cfg.Version)

			desc, err := schema.LoadDescriptor(schemaPath)
			if err != nil {
				return fmt.Errorf("schema invalid: %w", err)
			}
			fmt.Fprintf(out, "schema OK (build %s, %d tables)\n", desc.BuildID, len(desc.Tables))

			store, err := reorgstore.Open(cfg.Global.Database, desc)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer store.Close()
			if err := store.Ping(cmd.Context()); err != nil {
				return fmt.Errorf("database unreachable: %w", err)
			}
			fmt.Fprintln(out, "database OK (build-hash compatible)")

			client := &http.Client{Timeout: defaultHTTPTimeout}
			failures := 0

			for _, ch := range cfg.Chains {
				switch strings.ToLower(ch.Type) {
				case "evm":
					chainID, err := pingEVM(cmd.Context(), client, ch.RPCURL)
					if err != nil {
						failures++
						fmt.Fprintf(out, "- chain %d (evm): ERROR %v\n", ch.ID, err)
						continue
					}
					fmt.Fprintf(out, "- chain %d (evm): chainId %s OK\n", ch.ID, chainID)
				case "algorand":
					ver, err := pingAlgod(cmd.Context(), client, ch.RPCURL)
					if err != nil {
						failures++
						fmt.Fprintf(out, "- chain %d (algorand): ERROR %v\n", ch.ID, err)
						continue
					}
					fmt.Fprintf(out, "- chain %d (algorand): algod %s OK\n", ch.ID, ver)
				default:
					failures++
					fmt.Fprintf(out, "- chain %d: unsupported type %s\n", ch.ID, ch.Type)
				}
			}

			if failures > 0 {
				return fmt.Errorf("validate: %d chain(s) failed connectivity", failures)
			}

			fmt.Fprintln(out, "validate: success")
			return nil
		},
	}
}

func pingEVM(ctx context.Context, client *http.Client, url string) (string, error) {
	payload := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_chainId",
		"params":  []any{},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call eth_chainId: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("rpc status %d", resp.StatusCode)
	}

	var rpcResp struct {
		Result string `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return "", fmt.Errorf("decode rpc response: %w", err)
	}

	if rpcResp.Error != nil {
		return "", fmt.Errorf("rpc error: %s", rpcResp.Error.Message)
	}
	if rpcResp.Result == "" {
		return "", fmt.Errorf("empty chainId result")
	}

	return rpcResp.Result, nil
}

func pingAlgod(ctx context.Context, client *http.Client, baseURL string) (string, error) {
	url := strings.TrimRight(baseURL, "/") + "/versions"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call versions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var body struct {
		Versions []string `json:"versions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(body.Versions) == 0 {
		return "unknown", nil
	}
	return body.Versions[0], nil
}
