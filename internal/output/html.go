package output

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/torosent/stagefire/internal/metrics"
)

type htmlReportData struct {
	GeneratedAt  string
	Report       Report
	History      []metrics.DataPoint
	HistoryJSON  string
	StatusCodes  []metrics.StatusBucket
	Errors       []metrics.StatusBucket
	ExtraLatency []percentileRow
}

type percentileRow struct {
	Label string
	Ms    float64
}

// GenerateHTMLReport writes a standalone HTML report with embedded charts.
func GenerateHTMLReport(w io.Writer, r Report, history []metrics.DataPoint) error {
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	var extra []percentileRow
	for _, key := range extraPercentiles(r.Stats.LatencyPercentilesMs) {
		extra = append(extra, percentileRow{Label: key, Ms: r.Stats.LatencyPercentilesMs[key]})
	}

	data := htmlReportData{
		GeneratedAt:  time.Now().Format(time.RFC3339),
		Report:       r,
		History:      history,
		HistoryJSON:  string(historyJSON),
		StatusCodes:  metrics.FlattenStatusBuckets(r.Stats.StatusCodes),
		Errors:       metrics.FlattenStatusBuckets(r.Stats.Errors),
		ExtraLatency: extra,
	}

	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"formatDuration": func(d time.Duration) string {
			return d.String()
		},
		"formatFloat": func(f float64) string {
			return fmt.Sprintf("%.2f", f)
		},
		"formatActual": formatActual,
		"formatBytes": func(n uint64) string {
			return formatBytes(int64(n))
		},
		"percent": func(rate float64) string {
			return fmt.Sprintf("%.1f", rate*100)
		},
	}).Parse(htmlTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return nil
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>stagefire Probe Report</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body { font-family: -apple-system, 'Segoe UI', Roboto, Arial, sans-serif; background: #f4f6f8; color: #1f2933; padding: 20px; }
        .container { max-width: 1200px; margin: 0 auto; background: white; border-radius: 6px; overflow: hidden; }
        header { background: #1f2933; color: white; padding: 24px 32px; }
        header.pass { border-bottom: 6px solid #16a34a; }
        header.fail { border-bottom: 6px solid #dc2626; }
        header .meta { opacity: 0.85; font-size: 0.9rem; margin-top: 4px; }
        .content { padding: 32px; }
        .grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(180px, 1fr)); gap: 16px; margin-bottom: 32px; }
        .card { background: #f8fafc; border-radius: 6px; padding: 16px; border-left: 4px solid #3b82f6; }
        .card.ok { border-left-color: #16a34a; }
        .card.bad { border-left-color: #dc2626; }
        .card h3 { font-size: 0.8rem; color: #64748b; text-transform: uppercase; margin-bottom: 6px; }
        .card .value { font-size: 1.7rem; font-weight: bold; }
        .section { margin-bottom: 32px; }
        .section h2 { font-size: 1.3rem; margin-bottom: 14px; padding-bottom: 8px; border-bottom: 2px solid #e2e8f0; }
        .chart { width: 100%; height: 280px; margin-bottom: 24px; }
        table { width: 100%; border-collapse: collapse; }
        th, td { text-align: left; padding: 10px; border-bottom: 1px solid #e2e8f0; }
        th { background: #f8fafc; font-size: 0.8rem; text-transform: uppercase; color: #475569; }
        .badge { display: inline-block; padding: 3px 10px; border-radius: 10px; font-size: 0.8rem; font-weight: 600; }
        .badge-pass { background: #dcfce7; color: #166534; }
        .badge-fail { background: #fee2e2; color: #991b1b; }
        .warning { background: #fef3c7; color: #92400e; padding: 10px 14px; border-radius: 6px; margin-top: 12px; }
    </style>
    <script src="https://cdn.jsdelivr.net/npm/uplot@1.6.24/dist/uPlot.iife.min.js"></script>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/uplot@1.6.24/dist/uPlot.min.css">
</head>
<body>
    <div class="container">
        <header class="{{if .Report.Passed}}pass{{else}}fail{{end}}">
            <h1>stagefire Probe Report</h1>
            {{with .Report.Metadata}}
            {{if .TargetURL}}<div class="meta">Target: {{.TargetURL}}</div>{{end}}
            <div class="meta">{{if .Profile}}Profile: {{.Profile}} | {{end}}RPS cap: {{if .RPS}}{{.RPS}}{{else}}none{{end}}{{if .RunID}} | Run: {{.RunID}}{{end}}</div>
            {{end}}
            <div class="meta">Generated: {{.GeneratedAt}} | Duration: {{formatDuration .Report.Stats.Duration}}</div>
        </header>

        <div class="content">
            <div class="grid">
                <div class="card">
                    <h3>Requests</h3>
                    <div class="value">{{.Report.Stats.Total}}</div>
                </div>
                <div class="card {{if .Report.Stats.Failures}}bad{{else}}ok{{end}}">
                    <h3>Failed</h3>
                    <div class="value">{{percent .Report.Stats.FailureRate}}%</div>
                </div>
                <div class="card">
                    <h3>Requests/sec</h3>
                    <div class="value">{{formatFloat .Report.Stats.RequestsPerSec}}</div>
                </div>
                <div class="card">
                    <h3>P95 Latency</h3>
                    <div class="value">{{formatFloat .Report.Stats.P95LatencyMs}}ms</div>
                </div>
                {{if .Report.Stats.Checks}}
                <div class="card {{if .Report.Stats.ChecksFailed}}bad{{else}}ok{{end}}">
                    <h3>Checks</h3>
                    <div class="value">{{percent .Report.Stats.ChecksRate}}%</div>
                </div>
                {{end}}
                <div class="card">
                    <h3>Max VUs</h3>
                    <div class="value">{{.Report.Stats.VUsMax}}</div>
                </div>
            </div>

            {{if .History}}
            <div class="section">
                <h2>Over Time</h2>
                <div id="rps-chart" class="chart"></div>
                <div id="latency-chart" class="chart"></div>
            </div>
            {{end}}

            {{if .Report.Thresholds}}
            <div class="section">
                <h2>Thresholds ({{.Report.Thresholds.Passed}}/{{.Report.Thresholds.Total}} Passed)</h2>
                <table>
                    <thead><tr><th>Metric</th><th>Condition</th><th>Actual</th><th>Status</th></tr></thead>
                    <tbody>
                        {{range .Report.Thresholds.Results}}
                        <tr>
                            <td>{{.Metric}}</td>
                            <td>{{.Expression}}</td>
                            <td>{{formatActual .Actual}}</td>
                            <td>{{if .Pass}}<span class="badge badge-pass">PASS</span>{{else}}<span class="badge badge-fail">FAIL</span>{{end}}</td>
                        </tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}

            {{if .Report.Stats.Checks}}
            <div class="section">
                <h2>Checks</h2>
                <table>
                    <thead><tr><th>Check</th><th>Passes</th><th>Fails</th><th>Rate</th></tr></thead>
                    <tbody>
                        {{range .Report.Stats.Checks}}
                        <tr><td>{{.Name}}</td><td>{{.Passes}}</td><td>{{.Fails}}</td><td>{{percent .Rate}}%</td></tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}

            {{if .Report.Metadata.Stages}}
            <div class="section">
                <h2>Stages</h2>
                <table>
                    <thead><tr><th>#</th><th>Duration</th><th>Target VUs</th></tr></thead>
                    <tbody>
                        {{range $i, $s := .Report.Metadata.Stages}}
                        <tr><td>{{$i}}</td><td>{{$s.Duration}}</td><td>{{$s.Target}}</td></tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}

            <div class="section">
                <h2>Latency</h2>
                <table>
                    <thead><tr><th>Min</th><th>Mean</th><th>P50</th><th>P90</th><th>P95</th><th>P99</th><th>Max</th></tr></thead>
                    <tbody>
                        {{with .Report.Stats}}
                        <tr>
                            <td>{{formatDuration .MinLatency}}</td>
                            <td>{{formatDuration .MeanLatency}}</td>
                            <td>{{formatDuration .P50Latency}}</td>
                            <td>{{formatDuration .P90Latency}}</td>
                            <td>{{formatDuration .P95Latency}}</td>
                            <td>{{formatDuration .P99Latency}}</td>
                            <td>{{formatDuration .MaxLatency}}</td>
                        </tr>
                        {{end}}
                    </tbody>
                </table>
                {{if .ExtraLatency}}
                <table>
                    <tbody>
                        {{range .ExtraLatency}}<tr><td>{{.Label}}</td><td>{{formatFloat .Ms}}ms</td></tr>{{end}}
                    </tbody>
                </table>
                {{end}}
            </div>

            {{if or .StatusCodes .Errors}}
            <div class="section">
                <h2>Responses</h2>
                <table>
                    <thead><tr><th>Status / Error</th><th>Count</th></tr></thead>
                    <tbody>
                        {{range .StatusCodes}}<tr><td>{{.Code}}</td><td>{{.Count}}</td></tr>{{end}}
                        {{range .Errors}}<tr><td>{{.Code}}</td><td>{{.Count}}</td></tr>{{end}}
                    </tbody>
                </table>
            </div>
            {{end}}

            {{with .Report.Host}}
            {{if .Samples}}
            <div class="section">
                <h2>Load Generator</h2>
                <table>
                    <thead><tr><th>CPU mean</th><th>CPU max</th><th>Memory max</th><th>Process RSS max</th></tr></thead>
                    <tbody>
                        <tr><td>{{formatFloat .MeanCPUPercent}}%</td><td>{{formatFloat .MaxCPUPercent}}%</td><td>{{formatFloat .MaxMemUsedPercent}}%</td><td>{{formatBytes .MaxProcessRSS}}</td></tr>
                    </tbody>
                </table>
                {{if .Saturated}}<div class="warning">Load generator CPU was saturated; latency figures may be inflated.</div>{{end}}
            </div>
            {{end}}
            {{end}}
        </div>
    </div>

    {{if .History}}
    <script>
        const history = JSON.parse({{.HistoryJSON}});
        if (history && history.length > 0) {
            const start = new Date(history[0].timestamp).getTime();
            const xs = history.map(d => (new Date(d.timestamp).getTime() - start) / 1000);
            const width = el => document.getElementById(el).offsetWidth;

            new uPlot({
                title: "Requests/sec and VUs",
                width: width('rps-chart'),
                height: 280,
                scales: { x: { time: false } },
                series: [
                    { label: "Time (s)" },
                    { label: "RPS", stroke: "#3b82f6", width: 2 },
                    { label: "VUs", stroke: "#a855f7", width: 2, scale: "vus" }
                ],
                axes: [{}, { label: "Requests/sec" }, { side: 1, scale: "vus", label: "VUs" }]
            }, [xs, history.map(d => d.current_rps), history.map(d => d.vus)], document.getElementById('rps-chart'));

            new uPlot({
                title: "Latency Percentiles (ms)",
                width: width('latency-chart'),
                height: 280,
                scales: { x: { time: false } },
                series: [
                    { label: "Time (s)" },
                    { label: "P50", stroke: "#16a34a", width: 2 },
                    { label: "P95", stroke: "#f59e0b", width: 2 },
                    { label: "P99", stroke: "#dc2626", width: 2 }
                ]
            }, [xs, history.map(d => d.p50_latency_ms), history.map(d => d.p95_latency_ms), history.map(d => d.p99_latency_ms)], document.getElementById('latency-chart'));
        }
    </script>
    {{end}}
</body>
</html>
`
