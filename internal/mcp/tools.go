// Package mcp exposes the blaster to agent frontends over the Model
// Context Protocol. Tools run the engine in-process; private keys come
// exclusively from the environment the server was started with and are
// never accepted as tool arguments.
package mcp

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cryptondee/megaeth/internal/blaster"
	"github.com/cryptondee/megaeth/internal/config"
	"github.com/cryptondee/megaeth/internal/report"
	"github.com/cryptondee/megaeth/internal/rpc"
	"github.com/cryptondee/megaeth/internal/wallet"
	"github.com/cryptondee/megaeth/internal/watcher"
	"github.com/cryptondee/megaeth/pkg/types"
)

// Runner builds a fresh engine per tool call from the environment-derived
// base configuration plus whatever overrides the call carries. Runs share
// nothing, so a crashed run never poisons the next one.
type Runner struct {
	base   *config.Config
	logger *slog.Logger
}

// NewRunner wires a tool runner around the base configuration.
func NewRunner(base *config.Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{base: base, logger: logger}
}

// configFor clones the base configuration and applies tool-call overrides.
func (r *Runner) configFor(req gomcp.CallToolRequest) *config.Config {
	cfg := *r.base
	if v := req.GetString("target", ""); v != "" {
		cfg.Target = v
	}
	if v := req.GetInt("total", 0); v > 0 {
		cfg.Total = uint64(v)
	}
	if v := req.GetString("data", ""); v != "" {
		cfg.CallData = v
	}
	if v := req.GetInt("value_wei", 0); v > 0 {
		cfg.ValueWei = int64(v)
	}
	if v := req.GetInt("gas_limit", 0); v > 0 {
		cfg.GasLimit = uint64(v)
	}
	if v := req.GetInt("gas_fee_cap_wei", 0); v > 0 {
		cfg.GasFeeCapWei = int64(v)
	}
	if v := req.GetInt("gas_tip_cap_wei", 0); v > 0 {
		cfg.GasTipCapWei = int64(v)
	}
	if v := req.GetInt("settle_wait_ms", 0); v > 0 {
		cfg.SettleWait = time.Duration(v) * time.Millisecond
	}
	if req.GetBool("legacy", false) {
		cfg.UseLegacy = true
	}
	return &cfg
}

func (r *Runner) clientFor(cfg *config.Config) rpc.Client {
	ccfg := rpc.DefaultClientConfig(cfg.RPCURL)
	ccfg.Logger = r.logger
	return rpc.NewHTTPClient(ccfg)
}

// RegisterTools registers all blaster tools on the MCP server.
func RegisterTools(s *server.MCPServer, r *Runner) {
	registerRun(s, r)
	registerPlan(s, r)
	registerWallets(s, r)
}

func registerRun(s *server.MCPServer, r *Runner) {
	tool := gomcp.NewTool("blaster_run",
		gomcp.WithDescription("Fire a transaction blast: split the requested count across the wallet pool and send everything at the target contract. This is a MUTATING operation that spends real gas."),
		gomcp.WithNumber("total",
			gomcp.Description("How many transactions to send (default: from environment)"),
		),
		gomcp.WithString("target",
			gomcp.Description("Target contract address (default: from environment)"),
		),
		gomcp.WithString("data",
			gomcp.Description("Hex-encoded calldata, with or without 0x prefix"),
		),
		gomcp.WithNumber("value_wei",
			gomcp.Description("Wei attached to every call"),
		),
		gomcp.WithNumber("gas_limit",
			gomcp.Description("Gas limit per transaction"),
		),
		gomcp.WithNumber("gas_fee_cap_wei",
			gomcp.Description("Max fee per gas, in wei"),
		),
		gomcp.WithNumber("gas_tip_cap_wei",
			gomcp.Description("Priority fee per gas, in wei"),
		),
		gomcp.WithBoolean("legacy",
			gomcp.Description("Send pre-EIP-1559 transactions"),
		),
		gomcp.WithNumber("settle_wait_ms",
			gomcp.Description("Wait this long after the blast, then compare confirmed nonces against the plan"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		cfg := r.configFor(req)
		eng, err := blaster.New(cfg, r.clientFor(cfg), nil, r.logger)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Bad configuration: %v", err)), nil
		}

		var w *watcher.Watcher
		if cfg.WSURL != "" {
			w = watcher.New(cfg.WSURL, r.logger)
			go w.Run(ctx)
		}

		sum, runErr := eng.Run(ctx)
		if w != nil {
			w.Stop()
			if sum != nil {
				sum.Blocks = w.Stats()
			}
		}

		if runErr != nil {
			msg := fmt.Sprintf("Run failed: %v", runErr)
			if sum != nil {
				msg += "\n\n" + renderSummary(sum)
			}
			return gomcp.NewToolResultError(msg), nil
		}
		return gomcp.NewToolResultText(renderSummary(sum)), nil
	})
}

func registerPlan(s *server.MCPServer, r *Runner) {
	tool := gomcp.NewTool("blaster_plan",
		gomcp.WithDescription("Dry run: load the wallet pool, fetch nonces and show the distribution plan plus worst-case cost. Sends nothing."),
		gomcp.WithNumber("total",
			gomcp.Description("How many transactions to plan for (default: from environment)"),
		),
		gomcp.WithString("target",
			gomcp.Description("Target contract address (default: from environment)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		cfg := r.configFor(req)
		eng, err := blaster.New(cfg, r.clientFor(cfg), nil, r.logger)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Bad configuration: %v", err)), nil
		}
		if err := eng.CheckChain(ctx); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Preflight failed: %v", err)), nil
		}

		prep, err := eng.Prepare(ctx)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Plan failed: %v", err)), nil
		}

		var buf bytes.Buffer
		report.PrintPlan(&buf, prep.Plan, eng.EstimatedCost(prep.Plan.Total))
		return gomcp.NewToolResultText(joinLines(
			buf.String(),
			kv("Keys skipped", formatNumber(prep.Skipped)),
			kv("Wallets excluded", formatNumber(prep.Excluded)),
		)), nil
	})
}

func registerWallets(s *server.MCPServer, r *Runner) {
	tool := gomcp.NewTool("blaster_wallets",
		gomcp.WithDescription("List the wallet pool: addresses, pending nonces and balances. Read-only."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		cfg := r.base
		client := r.clientFor(cfg)

		wallets, skipped := wallet.ParseKeys(cfg.Keys, r.logger)
		if len(wallets) == 0 {
			return gomcp.NewToolResultError(fmt.Sprintf("No usable wallets (%d malformed key(s) skipped)", skipped)), nil
		}
		ready, excluded := wallet.InitNonces(ctx, client, wallets, cfg.NonceConcurrency, r.logger)

		lines := []string{
			section("Wallet Pool"),
			kv("Loaded", formatNumber(len(wallets))),
			kv("Skipped", formatNumber(skipped)),
			kv("Excluded", formatNumber(excluded)),
			"",
		}
		for _, w := range ready {
			balance := "?"
			if bal, err := client.GetBalance(ctx, w.Address.Hex()); err == nil {
				balance = weiToEth(bal) + " ETH"
			}
			lines = append(lines, fmt.Sprintf("  [%d] %s  nonce=%d  balance=%s",
				w.ID, w.Address.Hex(), w.Nonce(), balance))
		}
		return gomcp.NewToolResultText(joinLines(lines...)), nil
	})
}

func renderSummary(sum *types.Summary) string {
	var buf bytes.Buffer
	report.PrintSummary(&buf, sum)
	return buf.String()
}
