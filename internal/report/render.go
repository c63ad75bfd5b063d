// Package report renders run reports for the terminal or for machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"

	"github.com/studiowebux/surge/internal/stats"
	"github.com/studiowebux/surge/internal/stresstest"
)

// Output formats
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	sectionStyle = lipgloss.NewStyle().Bold(true).MarginTop(1)
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	borderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	goodStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	badStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	noteStyle    = lipgloss.NewStyle().Faint(true)
)

// ValidFormat reports whether format is one Render understands
func ValidFormat(format string) bool {
	switch format {
	case FormatText, FormatJSON, FormatYAML, "":
		return true
	}
	return false
}

// Render writes rep to w in the given format
func Render(w io.Writer, rep *stresstest.Report, format string) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, rep)
	case FormatYAML:
		return writeYAML(w, rep)
	case FormatText, "":
		_, err := io.WriteString(w, renderText(rep))
		return err
	}
	return fmt.Errorf("unknown output format %q", format)
}

// RenderHistory writes a run listing to w in the given format
func RenderHistory(w io.Writer, runs []*stresstest.RunSummary, format string) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, runs)
	case FormatYAML:
		return writeYAML(w, runs)
	case FormatText, "":
		if len(runs) == 0 {
			_, err := fmt.Fprintln(w, "No saved runs")
			return err
		}
		rows := make([][]string, 0, len(runs))
		for _, r := range runs {
			rows = append(rows, []string{
				r.ID,
				r.StartedAt.Local().Format("2006-01-02 15:04:05"),
				string(r.Pattern),
				r.Target,
				r.Workload,
				r.Status,
				strconv.FormatInt(r.Completed, 10),
				strconv.FormatInt(r.Failed, 10),
				fmt.Sprintf("%.1f", r.Throughput),
				FormatLatency(r.P99),
			})
		}
		_, err := fmt.Fprintln(w, newTable(
			[]string{"ID", "Started", "Pattern", "Target", "Workload", "Status", "Completed", "Failed", "Req/s", "P99"},
			rows))
		return err
	}
	return fmt.Errorf("unknown output format %q", format)
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func renderText(rep *stresstest.Report) string {
	var sb strings.Builder

	title := fmt.Sprintf("Run %s", rep.ID)
	if rep.Name != "" {
		title += " (" + rep.Name + ")"
	}
	sb.WriteString(titleStyle.Render(title))
	sb.WriteString("\n")

	sb.WriteString(section("Summary"))
	sb.WriteString(keyValues(summaryRows(rep)))

	if rep.Latency.Count > 0 || rep.Tail.Count > 0 {
		sb.WriteString(section("Latency"))
		sb.WriteString(latencyTable(rep))
		if rep.SampledOut > 0 {
			sb.WriteString(noteStyle.Render(fmt.Sprintf(
				"sampled percentiles cover %d of %d responses (capacity %d)",
				rep.Latency.Count, rep.Completed, rep.SampleCapacity)))
			sb.WriteString("\n")
		}
	}

	if len(rep.StatusCodes) > 0 {
		sb.WriteString(section("Status codes"))
		sb.WriteString(statusTable(rep.StatusCodes))
	}

	if len(rep.Endpoints) > 0 {
		sb.WriteString(section("Endpoints"))
		sb.WriteString(endpointTable(rep))
	}

	if len(rep.Levels) > 0 {
		sb.WriteString(section("Levels"))
		sb.WriteString(levelTable(rep))
	}

	if len(rep.Phases) > 0 {
		sb.WriteString(section("Phases"))
		sb.WriteString(phaseTable(rep.Phases))
	}

	return sb.String()
}

func section(name string) string {
	return sectionStyle.Render(name) + "\n"
}

func summaryRows(rep *stresstest.Report) [][]string {
	rows := [][]string{
		{"Pattern", string(rep.Pattern)},
		{"Target", rep.Target},
		{"Workload", rep.Workload},
		{"Status", statusStyle(rep.Status).Render(rep.Status)},
		{"Started", rep.StartedAt.Local().Format(time.RFC3339)},
		{"Duration", rep.Duration.Round(time.Millisecond).String()},
		{"Concurrency", strconv.Itoa(rep.Concurrency)},
	}
	if rep.Requested > 0 {
		rows = append(rows, []string{"Requested", strconv.FormatInt(rep.Requested, 10)})
	}
	rows = append(rows,
		[]string{"Completed", strconv.FormatInt(rep.Completed, 10)},
		[]string{"Failed", strconv.FormatInt(rep.Failed, 10)},
		[]string{"Connection errors", strconv.FormatInt(rep.ConnectionErrors, 10)},
		[]string{"Success rate", rateStyle(rep.SuccessRate).Render(fmt.Sprintf("%.2f%%", rep.SuccessRate*100))},
		[]string{"Throughput", fmt.Sprintf("%.1f req/s", rep.Throughput)},
		[]string{"Bandwidth", fmt.Sprintf("%.2f MB/s", rep.Bandwidth)},
		[]string{"Sent", FormatSize(rep.BytesSent)},
		[]string{"Received", FormatSize(rep.BytesReceived)},
	)
	return rows
}

func latencyTable(rep *stresstest.Report) string {
	s, h := rep.Latency, rep.Tail
	row := func(name string, sampled, tail time.Duration) []string {
		out := []string{name, FormatLatency(sampled), "-"}
		if h.Count > 0 {
			out[2] = FormatLatency(tail)
		}
		return out
	}
	return newTable([]string{"", "Sampled", "Histogram"}, [][]string{
		row("min", s.Min, h.Min),
		row("mean", s.Mean, h.Mean),
		row("p50", s.P50, h.P50),
		row("p90", s.P90, h.P90),
		row("p95", s.P95, h.P95),
		row("p99", s.P99, h.P99),
		row("max", s.Max, h.Max),
	}) + "\n"
}

func statusTable(codes map[int]int64) string {
	keys := make([]int, 0, len(codes))
	for code := range codes {
		keys = append(keys, code)
	}
	sort.Ints(keys)

	rows := make([][]string, 0, len(keys))
	for _, code := range keys {
		rows = append(rows, []string{
			codeStyle(code).Render(strconv.Itoa(code)),
			strconv.FormatInt(codes[code], 10),
		})
	}
	return newTable([]string{"Status", "Responses"}, rows) + "\n"
}

func endpointTable(rep *stresstest.Report) string {
	var total int64
	for _, ep := range rep.Endpoints {
		total += ep.Count
	}

	rows := make([][]string, 0, len(rep.Endpoints))
	for _, ep := range rep.Endpoints {
		share := 0.0
		if total > 0 {
			share = float64(ep.Count) / float64(total) * 100
		}
		rows = append(rows, []string{
			ep.Path,
			strconv.FormatInt(ep.Count, 10),
			fmt.Sprintf("%.1f%%", share),
			FormatSize(ep.Bytes),
			strconv.FormatInt(ep.Errors, 10),
		})
	}
	return newTable([]string{"Endpoint", "Requests", "Share", "Bytes", "Errors"}, rows) + "\n"
}

func levelTable(rep *stresstest.Report) string {
	rows := make([][]string, 0, len(rep.Levels))
	for _, l := range rep.Levels {
		marker := ""
		if rep.Peak != nil && l.Concurrency == rep.Peak.Concurrency {
			marker = goodStyle.Render("peak")
		}
		rows = append(rows, []string{
			strconv.Itoa(l.Concurrency),
			strconv.FormatInt(l.Completed, 10),
			strconv.FormatInt(l.Failed, 10),
			fmt.Sprintf("%.1f", l.Throughput),
			FormatLatency(l.Latency.P50),
			FormatLatency(l.Latency.P99),
			rateStyle(l.SuccessRate).Render(fmt.Sprintf("%.1f%%", l.SuccessRate*100)),
			marker,
		})
	}
	return newTable([]string{"Concurrency", "Completed", "Failed", "Req/s", "P50", "P99", "Success", ""}, rows) + "\n"
}

func phaseTable(phases []stats.WindowStats) string {
	rows := make([][]string, 0, len(phases))
	for _, p := range phases {
		rows = append(rows, []string{
			p.Name,
			p.To.Sub(p.From).Round(time.Millisecond).String(),
			strconv.FormatInt(p.Successes, 10),
			strconv.FormatInt(p.Failures, 10),
			fmt.Sprintf("%.1f", p.Throughput),
			FormatLatency(p.Latency.P50),
			FormatLatency(p.Latency.P95),
			FormatLatency(p.Latency.P99),
		})
	}
	return newTable([]string{"Phase", "Duration", "Successes", "Failures", "Req/s", "P50", "P95", "P99"}, rows) + "\n"
}

func keyValues(rows [][]string) string {
	t := table.New().
		Border(lipgloss.HiddenBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return cellStyle.Bold(true)
			}
			return cellStyle
		}).
		Rows(rows...)
	return t.String() + "\n"
}

func newTable(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)
	return t.String()
}

func statusStyle(status string) lipgloss.Style {
	switch status {
	case stresstest.StatusCompleted:
		return goodStyle
	case stresstest.StatusCancelled:
		return warnStyle
	default:
		return badStyle
	}
}

func rateStyle(successRate float64) lipgloss.Style {
	switch {
	case successRate >= 1-stats.FailureWarnRatio/10:
		return goodStyle
	case successRate >= 1-stats.FailureWarnRatio:
		return warnStyle
	default:
		return badStyle
	}
}

func codeStyle(code int) lipgloss.Style {
	switch {
	case code >= 200 && code < 300:
		return goodStyle
	case code >= 400:
		return badStyle
	default:
		return warnStyle
	}
}
