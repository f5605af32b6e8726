// Package report renders the live block table and the end-of-run summary.
package report

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gateway-fm/blockprobe/internal/stats"
	"github.com/gateway-fm/blockprobe/pkg/types"
)

// Reporter streams one line per observed block and a final summary table.
// Writes go to a single io.Writer (stdout in the CLI); a mutex keeps the
// poller's per-block lines from interleaving with phase banners.
type Reporter struct {
	mu         sync.Mutex
	w          io.Writer
	thresholds types.Thresholds
}

// New creates a reporter writing to w.
func New(w io.Writer, thresholds types.Thresholds) *Reporter {
	return &Reporter{w: w, thresholds: thresholds}
}

// PhaseBanner announces a phase transition.
func (r *Reporter) PhaseBanner(phase types.Phase, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var title string
	switch phase {
	case types.PhaseBaseline:
		title = "PHASE 1: Baseline Monitoring (No Load)"
	case types.PhaseUnderLoad:
		title = "PHASE 2: Monitoring Under Load"
	default:
		title = string(phase)
	}

	fmt.Fprintf(r.w, "\n%s\n", title)
	if detail != "" {
		fmt.Fprintln(r.w, detail)
	}
	fmt.Fprintln(r.w, sepHeavy)
	fmt.Fprintf(r.w, "\n%-10s %-9s %-8s %-9s %s\n", "Block#", "Time(ms)", "Avg(10)", "Avg(all)", "Status")
	fmt.Fprintln(r.w, sepLight)
}

// Line renders one block sample row.
func (r *Reporter) Line(update stats.BlockUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	marker := ""
	if update.Sample.Coalesced {
		marker = " *"
	}
	fmt.Fprintf(r.w, "%-10d %-9.0f %-8.1f %-9.1f %s%s\n",
		update.Sample.Height,
		update.Sample.DeltaMs,
		update.RollingAvgMs,
		update.CumulativeAvg,
		update.Class.Symbol(),
		marker,
	)
}

// Summary renders the end-of-run statistics block. Load and transaction
// sections are omitted when no such traffic was generated.
func (r *Reporter) Summary(blocks stats.BlockStats, reqs stats.RequestStats, txs stats.TxStats, elapsed, loadElapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintf(r.w, "\n%s\n", sepHeavy)
	fmt.Fprintln(r.w, "BLOCK TIME STATISTICS")
	fmt.Fprintln(r.w, sepHeavy)

	if blocks.Count == 0 {
		fmt.Fprintln(r.w, "\nNo new blocks detected during monitoring period!")
		r.loadSection(reqs, txs, loadElapsed)
		return
	}

	fmt.Fprintf(r.w, "\nTotal blocks observed: %d", blocks.Count)
	if blocks.Coalesced > 0 {
		fmt.Fprintf(r.w, " (%d coalesced)", blocks.Coalesced)
	}
	fmt.Fprintln(r.w)
	fmt.Fprintf(r.w, "Monitoring duration: %.0fs\n", elapsed.Seconds())
	fmt.Fprintf(r.w, "Average block time: %.1fms\n", blocks.AvgMs)
	if blocks.Count > 1 {
		fmt.Fprintf(r.w, "Std deviation: %.1fms\n", blocks.StdDevMs)
		fmt.Fprintf(r.w, "Min block time: %.0fms\n", blocks.MinMs)
		fmt.Fprintf(r.w, "Max block time: %.0fms\n", blocks.MaxMs)
	}

	fmt.Fprintln(r.w, "\nPercentiles:")
	fmt.Fprintf(r.w, "  50th (median): %.0fms\n", blocks.P50)
	fmt.Fprintf(r.w, "  90th: %.0fms\n", blocks.P90)
	fmt.Fprintf(r.w, "  95th: %.0fms\n", blocks.P95)
	fmt.Fprintf(r.w, "  99th: %.0fms\n", blocks.P99)

	fast := blocks.ClassCount[types.ClassFast]
	ok := fast + blocks.ClassCount[types.ClassOK]
	slow := ok + blocks.ClassCount[types.ClassSlow]

	fmt.Fprintln(r.w, "\nPerformance Distribution:")
	fmt.Fprintf(r.w, "  <= %.0fms:  %d/%d (%.1f%%)\n", r.thresholds.FastMs, fast, blocks.Count, pct(fast, blocks.Count))
	fmt.Fprintf(r.w, "  <= %.0fms: %d/%d (%.1f%%)\n", r.thresholds.OKMs, ok, blocks.Count, pct(ok, blocks.Count))
	fmt.Fprintf(r.w, "  <= %.0fms: %d/%d (%.1f%%)\n", r.thresholds.SlowMs, slow, blocks.Count, pct(slow, blocks.Count))

	fmt.Fprintln(r.w, "\nVerdict:")
	switch {
	case blocks.AvgMs <= r.thresholds.FastMs:
		fmt.Fprintf(r.w, "  Chain MAINTAINED %.0fms average block time (pass rate %.1f%%)\n",
			r.thresholds.FastMs, blocks.PassRate*100)
	case blocks.AvgMs <= r.thresholds.OKMs:
		fmt.Fprintf(r.w, "  Chain held sub-%.0fms average, but exceeded the %.0fms target (pass rate %.1f%%)\n",
			r.thresholds.OKMs, r.thresholds.FastMs, blocks.PassRate*100)
	default:
		fmt.Fprintf(r.w, "  Chain EXCEEDED %.0fms average block time (avg %.1fms, pass rate %.1f%%)\n",
			r.thresholds.OKMs, blocks.AvgMs, blocks.PassRate*100)
	}

	r.loadSection(reqs, txs, loadElapsed)
}

func (r *Reporter) loadSection(reqs stats.RequestStats, txs stats.TxStats, elapsed time.Duration) {
	if reqs.Total > 0 {
		fmt.Fprintln(r.w, "\nLoad Test Stats:")
		fmt.Fprintf(r.w, "  Total RPC requests: %d\n", reqs.Total)
		fmt.Fprintf(r.w, "  Failed requests: %d\n", reqs.Failed)
		if elapsed > 0 {
			fmt.Fprintf(r.w, "  Effective RPS: %.1f\n", float64(reqs.Total)/elapsed.Seconds())
		}
		if reqs.Latency != nil {
			fmt.Fprintf(r.w, "  Request latency: avg %.1fms  p50 %.1fms  p90 %.1fms  p99 %.1fms\n",
				reqs.Latency.Avg, reqs.Latency.P50, reqs.Latency.P90, reqs.Latency.P99)
		}
	}

	if txs.Sent+txs.Failed > 0 {
		fmt.Fprintln(r.w, "\nTransaction Stats:")
		fmt.Fprintf(r.w, "  Sent: %d\n", txs.Sent)
		fmt.Fprintf(r.w, "  Failed: %d\n", txs.Failed)
		for _, kind := range []types.TxErrorKind{types.TxErrNonce, types.TxErrInsufficientFunds, types.TxErrUnderpriced, types.TxErrOther} {
			if n := txs.Errors[kind]; n > 0 {
				fmt.Fprintf(r.w, "    %s: %d\n", kind, n)
			}
		}
	}
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

const (
	sepHeavy = "================================================================================"
	sepLight = "--------------------------------------------------"
)
