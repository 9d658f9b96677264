// Package report renders run reports and execution plans for the terminal.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/jethrojohnson/flowmake/internal/orchestrator"
	"github.com/jethrojohnson/flowmake/internal/scheduler"
)

// RenderPlan formats the planned batches without executing anything, used by
// --dry-run and the show command. Stale tasks are marked; fresh tasks would
// be skipped.
func RenderPlan(plan *orchestrator.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", styleTitle.Render(fmt.Sprintf("Plan for target %q (%d tasks)", plan.Target, len(plan.Names))))
	for i, batch := range plan.Batches {
		fmt.Fprintf(&b, "batch %d:\n", i+1)
		for _, name := range batch {
			marker := styleSkipped.Render("fresh")
			if plan.Stale[name] {
				marker = styleStale.Render("stale")
			}
			fmt.Fprintf(&b, "  %-8s %s", marker, name)
			if cmd, ok := plan.Commands[name]; ok {
				fmt.Fprintf(&b, "  %s", styleDetail.Render(cmd))
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// RenderReport formats a run's terminal states, one line per task, with an
// actionable error message for every failure.
func RenderReport(r *orchestrator.RunReport) string {
	var b strings.Builder
	for _, res := range r.Results {
		fmt.Fprintf(&b, "%-10s %s", statusLabel(res), res.Name)
		if res.Status == scheduler.StatusSucceeded && res.Duration > 0 {
			fmt.Fprintf(&b, "  %s", styleDetail.Render(res.Duration.Round(time.Millisecond).String()))
		}
		b.WriteByte('\n')
		if res.Status == scheduler.StatusFailed && res.Err != nil {
			fmt.Fprintf(&b, "           %s\n", styleFailed.Render(res.Err.Error()))
		}
	}

	summary := fmt.Sprintf("%d executed, %d failed, %d total", r.Executed(), len(r.Failed()), len(r.Results))
	if r.Success {
		fmt.Fprintf(&b, "%s  %s\n", styleSucceeded.Render("ok"), summary)
	} else {
		fmt.Fprintf(&b, "%s  %s\n", styleFailed.Render("FAILED"), summary)
	}
	return b.String()
}

func statusLabel(res orchestrator.TaskResult) string {
	switch res.Status {
	case scheduler.StatusSucceeded:
		return styleSucceeded.Render("ok")
	case scheduler.StatusFailed:
		return styleFailed.Render("failed")
	case scheduler.StatusSkipped:
		if res.Skip == scheduler.SkipFresh {
			return styleSkipped.Render("fresh")
		}
		return styleSkipped.Render("skipped")
	default:
		return stylePending.Render(res.Status.String())
	}
}
