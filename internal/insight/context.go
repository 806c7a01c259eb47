package insight

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/models"
)

// RenderContext formats a payload and the caller's devices as the plain-text
// context block handed to the assistant. Unavailable sections are written as
// "unavailable" and empty ones as "none", so the two never look alike.
func RenderContext(p Payload, devices []models.Device) string {
	var b strings.Builder

	b.WriteString("Devices:\n")
	if len(devices) == 0 {
		b.WriteString("  none\n")
	}
	for _, d := range devices {
		fmt.Fprintf(&b, "  - device %s on breaker %s", d.ID, d.BreakerID)
		if d.Name != "" {
			fmt.Fprintf(&b, " (%s)", d.Name)
		}
		b.WriteString("\n")
		if d.Prompt != "" {
			fmt.Fprintf(&b, "    note: %s\n", oneLine(d.Prompt))
		}
		if d.ManualText != "" {
			fmt.Fprintf(&b, "    manual: %s\n", oneLine(d.ManualText))
		}
	}

	b.WriteString("Forecast: ")
	if !p.Forecast.Available || p.Forecast.Result == nil {
		b.WriteString(unavailable(p.Forecast.Section))
	} else {
		r := p.Forecast.Result
		fmt.Fprintf(&b, "%.2f kWh over %d days, estimated cost %.2f",
			r.TotalEnergyKWh, r.HorizonDays, r.EstimatedCost)
	}
	b.WriteString("\n")

	writeReport(&b, "Electrical faults", p.Anomalies)
	writeReport(&b, "Leakage anomalies", p.Leakage)
	return b.String()
}

func writeReport(b *strings.Builder, title string, s AnomalySection) {
	fmt.Fprintf(b, "%s: ", title)
	if !s.Available {
		b.WriteString(unavailable(s.Section))
		b.WriteString("\n")
		return
	}
	if len(s.Report) == 0 {
		b.WriteString("none\n")
		return
	}
	b.WriteString("\n")

	ids := make([]string, 0, len(s.Report))
	for id := range s.Report {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(b, "  - %s: %s\n", id, strings.Join(s.Report[id], ", "))
	}
}

func unavailable(s Section) string {
	if s.Error == "" {
		return "unavailable"
	}
	return "unavailable (" + s.Error + ")"
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
