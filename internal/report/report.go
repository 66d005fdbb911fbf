// Package report renders plans and run summaries for humans. Everything
// else in the program emits structured logs; this is the one place that
// prints tables to the terminal.
package report

import (
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/fatih/color"

	"github.com/cryptondee/megaeth/pkg/types"
)

var (
	header  = color.New(color.FgCyan, color.Bold)
	good    = color.New(color.FgGreen)
	bad     = color.New(color.FgRed)
	caution = color.New(color.FgYellow)
)

const rule = "============================================================"

// PrintPlan writes the distribution plan and the worst-case cost of
// executing it. Used by dry runs before anything is sent.
func PrintPlan(w io.Writer, plan types.Plan, cost *big.Int) {
	header.Fprintln(w, rule)
	header.Fprintln(w, "  Blast Plan")
	header.Fprintln(w, rule)

	fmt.Fprintln(w, kv("Transactions", formatNumber(plan.Total)))
	fmt.Fprintln(w, kv("Wallets", formatNumber(len(plan.Entries))))
	if cost != nil {
		fmt.Fprintln(w, kv("Max cost", weiToEth(cost)+" ETH"))
	}

	if len(plan.Entries) == 0 {
		fmt.Fprintln(w, "\nNothing to send.")
		return
	}

	fmt.Fprintf(w, "\n  %-4s %-16s %10s %12s\n", "ID", "Address", "Quota", "StartNonce")
	for _, e := range plan.Entries {
		fmt.Fprintf(w, "  %-4d %-16s %10s %12d\n",
			e.ID, shortenAddress(e.Address), formatNumber(e.Quota), e.StartNonce)
	}
}

// PrintSummary writes the aggregate outcome of a finished run.
func PrintSummary(w io.Writer, sum *types.Summary) {
	header.Fprintln(w, rule)
	header.Fprintln(w, "  Blast Summary")
	header.Fprintln(w, rule)

	fmt.Fprintln(w, kv("Status", statusColor(sum.Status)))
	fmt.Fprintln(w, kv("Chain ID", sum.ChainID))
	fmt.Fprintln(w, kv("Target", sum.Target))
	fmt.Fprintln(w, kv("Requested", formatNumber(sum.Total)))
	fmt.Fprintln(w, kv("Duration", fmt.Sprintf("%.2fs", float64(sum.DurationMs)/1000)))
	fmt.Fprintln(w, kv("Wallets", fmt.Sprintf("%d planned (%d loaded, %d skipped, %d excluded)",
		sum.WalletsPlanned, sum.WalletsLoaded, sum.WalletsSkipped, sum.WalletsExcluded)))

	sent := formatNumber(sum.TxSent)
	if sum.TxSent > 0 {
		sent = good.Sprint(sent)
	}
	fmt.Fprintln(w, kv("Sent", sent))

	failed := formatNumber(sum.TxFailed)
	if sum.TxFailed > 0 {
		failed = bad.Sprint(failed)
	}
	fmt.Fprintln(w, kv("Failed", failed))

	if sum.SendTPS > 0 {
		fmt.Fprintln(w, kv("Send rate", fmt.Sprintf("%.1f tx/s", sum.SendTPS)))
	}
	if sum.IncompleteLoops > 0 {
		fmt.Fprintln(w, kv("Incomplete loops", caution.Sprint(formatNumber(sum.IncompleteLoops))))
	}

	r := sum.Retries
	if r.NonceResyncs > 0 || r.CongestionWaits > 0 || r.GenericRetries > 0 {
		fmt.Fprintln(w)
		header.Fprintln(w, "Recovery")
		fmt.Fprintln(w, kv("  Nonce resyncs", formatNumber(r.NonceResyncs)))
		fmt.Fprintln(w, kv("  Congestion waits", formatNumber(r.CongestionWaits)))
		fmt.Fprintln(w, kv("  Generic retries", formatNumber(r.GenericRetries)))
	}

	if lat := sum.Latency; lat != nil {
		fmt.Fprintln(w)
		header.Fprintln(w, "Broadcast latency")
		fmt.Fprintf(w, "  count=%d min=%s p50=%s p95=%s p99=%s max=%s avg=%s\n",
			lat.Count, formatMs(lat.Min), formatMs(lat.P50), formatMs(lat.P95),
			formatMs(lat.P99), formatMs(lat.Max), formatMs(lat.Avg))
	}

	if b := sum.Blocks; b != nil {
		fmt.Fprintln(w)
		header.Fprintln(w, "Chain activity")
		fmt.Fprintln(w, kv("  Blocks seen", formatNumber(b.Blocks)))
		fmt.Fprintln(w, kv("  Block range", fmt.Sprintf("%d - %d", b.FirstBlock, b.LastBlock)))
		fmt.Fprintln(w, kv("  Gas used", formatNumber(b.GasUsed)))
		if b.AvgBlockTimeMs > 0 {
			fmt.Fprintln(w, kv("  Avg block time", formatMs(b.AvgBlockTimeMs)))
		}
	}

	if len(sum.Results) == 0 {
		return
	}

	fmt.Fprintln(w)
	header.Fprintln(w, "Wallet results")
	fmt.Fprintf(w, "  %-4s %-16s %8s %8s %8s %12s %10s\n",
		"ID", "Address", "Quota", "Sent", "Failed", "FinalNonce", "Confirmed")
	for _, res := range sum.Results {
		confirmed := "-"
		if res.Confirmed != nil {
			confirmed = formatNumber(*res.Confirmed)
		}
		fmt.Fprintf(w, "  %-4d %-16s %8s %8s %8s %12d %10s\n",
			res.ID, shortenAddress(res.Address),
			formatNumber(res.Quota), formatNumber(res.Sent), formatNumber(res.Failed),
			res.FinalNonce, confirmed)
		if res.Err != "" {
			fmt.Fprintf(w, "       %s\n", bad.Sprintf("loop aborted: %s", res.Err))
		}
	}
}

func statusColor(s types.RunStatus) string {
	switch s {
	case types.StatusCompleted:
		return good.Sprint(string(s))
	case types.StatusError:
		return bad.Sprint(string(s))
	default:
		return string(s)
	}
}

// kv formats a key-value pair with aligned values (20 char key width).
func kv(key string, value any) string {
	return fmt.Sprintf("%-20s %v", key+":", value)
}

// formatNumber adds comma separators to integers.
func formatNumber(n any) string {
	var s string
	switch v := n.(type) {
	case uint64:
		s = fmt.Sprintf("%d", v)
	case int64:
		s = fmt.Sprintf("%d", v)
	case int:
		s = fmt.Sprintf("%d", v)
	default:
		return fmt.Sprintf("%v", n)
	}

	if len(s) <= 3 {
		return s
	}
	var result strings.Builder
	start := len(s) % 3
	if start > 0 {
		result.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if result.Len() > 0 {
			result.WriteByte(',')
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

// formatMs formats milliseconds with a "ms" suffix.
func formatMs(v float64) string {
	return fmt.Sprintf("%.1fms", v)
}

func shortenAddress(address string) string {
	if len(address) < 12 {
		return address
	}
	return address[:8] + "..." + address[len(address)-4:]
}

// weiToEth renders a wei amount as a decimal ETH string.
func weiToEth(amount *big.Int) string {
	eth := new(big.Float).Quo(new(big.Float).SetInt(amount), big.NewFloat(1e18))
	return fmt.Sprintf("%.6f", eth)
}
