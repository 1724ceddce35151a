// Package command renders engine state and decisions as plain text for the
// CLI, in the style of a chat-command reply.
package command

import (
	"fmt"
	"strings"
	"time"

	"routerd/pkg/types"
)

// FormatStatus renders the full router status as multi-line text.
func FormatStatus(st types.StatusResponse) string {
	var b strings.Builder

	b.WriteString("Model Router Status\n")
	b.WriteString("===================\n")
	if st.Reachable {
		fmt.Fprintf(&b, "Backend:   reachable")
		if st.Version != "" {
			fmt.Fprintf(&b, " (v%s)", st.Version)
		}
		b.WriteByte('\n')
	} else {
		b.WriteString("Backend:   UNREACHABLE\n")
	}
	if st.LastHealthCheckUnix > 0 {
		fmt.Fprintf(&b, "Checked:   %s\n", time.Unix(st.LastHealthCheckUnix, 0).Format(time.RFC3339))
	} else {
		b.WriteString("Checked:   never\n")
	}
	fmt.Fprintf(&b, "AutoRoute: %s\n\n", onOff(st.Routing.AutoRoute))

	writeModel(&b, "Primary", st.PrimaryModel)
	writeModel(&b, "Sidecar", st.SidecarModel)
	fmt.Fprintf(&b, "Fallback:  %s\n\n", st.FallbackModel)

	if st.GPU.Utilization != nil {
		fmt.Fprintf(&b, "GPU:       %.0f%% busy", *st.GPU.Utilization)
	} else {
		b.WriteString("GPU:       utilization unknown")
	}
	if st.GPU.VRAMUsedMB != nil && st.GPU.VRAMTotalMB != nil {
		fmt.Fprintf(&b, ", VRAM %d/%d MB", *st.GPU.VRAMUsedMB, *st.GPU.VRAMTotalMB)
	}
	b.WriteString("\n\n")

	r := st.Routing
	fmt.Fprintf(&b, "Decisions: %d total (primary %d, sidecar %d, fallback %d)\n",
		r.TotalDecisions, r.PrimarySelections, r.SidecarSelections, r.FallbackSelections)
	if r.LastDecision != nil {
		b.WriteString("Last:      " + FormatDecision(*r.LastDecision))
	}
	return b.String()
}

// FormatDecision renders one routing decision as a single line.
func FormatDecision(d types.RouteDecision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "-> %s [%s] %s", d.Target, d.Source, d.Reason)
	if d.VRAMUsedMB != nil && d.VRAMTotalMB != nil {
		fmt.Fprintf(&b, " (VRAM %d/%d MB)", *d.VRAMUsedMB, *d.VRAMTotalMB)
	}
	if d.TargetWasAlreadyLoaded {
		b.WriteString(" [warm]")
	}
	b.WriteByte('\n')
	return b.String()
}

func writeModel(b *strings.Builder, label string, m types.ModelReport) {
	fmt.Fprintf(b, "%s:   %s", label, m.ConfigName)
	switch {
	case m.Loaded:
		b.WriteString(" [loaded")
		if m.VRAMBytes > 0 {
			fmt.Fprintf(b, ", %d MB VRAM", m.VRAMBytes/(1024*1024))
		}
		b.WriteString("]")
	case m.Pulled:
		b.WriteString(" [pulled]")
	default:
		b.WriteString(" [not pulled]")
	}
	if m.ParameterSize != "" {
		fmt.Fprintf(b, " %s", m.ParameterSize)
	}
	if m.Quantization != "" {
		fmt.Fprintf(b, " %s", m.Quantization)
	}
	b.WriteByte('\n')
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
