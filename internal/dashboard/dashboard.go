package dashboard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/torosent/stagefire/internal/hoststats"
	"github.com/torosent/stagefire/internal/metrics"
)

// RunConfig holds probe parameters for display.
type RunConfig struct {
	TargetURL  string        // Full target URL
	Profile    string        // Threshold profile name
	RPS        int           // Request rate cap (0 = unlimited)
	Timeout    time.Duration // Request timeout
	Stages     []Stage       // Configured ramp stages
	ConfigFile string        // Path to config file if used
}

// Stage is one ramp stage as shown on the dashboard.
type Stage struct {
	Duration time.Duration
	Target   int
}

// TargetFunc reports the scheduled VU target and stage index at elapsed time.
type TargetFunc func(elapsed time.Duration) (vus int, stage int, ok bool)

// HostFunc returns the latest load generator sample, if any.
type HostFunc func() (hoststats.Sample, bool)

// Dashboard renders a live terminal UI for probe metrics.
type Dashboard struct {
	collector    *metrics.Collector
	target       TargetFunc
	host         HostFunc
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownFunc func()
	wg           sync.WaitGroup
	mu           sync.Mutex

	grid           *ui.Grid
	summaryPara    *widgets.Paragraph
	vuGauge        *widgets.Gauge
	stageGauge     *widgets.Gauge
	latencySparkle *widgets.SparklineGroup
	rpsSparkle     *widgets.SparklineGroup
	latencyPara    *widgets.Paragraph
	checkList      *widgets.List
	statusList     *widgets.List
	hostPara       *widgets.Paragraph
	latencyHistory []float64
	rpsHistory     []float64
	startTime      time.Time
	testDuration   time.Duration
	cfg            RunConfig
}

// New creates a new Dashboard. target and host may be nil.
func New(collector *metrics.Collector, cfg RunConfig, target TargetFunc, host HostFunc, shutdownFunc func()) (*Dashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize termui: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Dashboard{
		collector:      collector,
		target:         target,
		host:           host,
		ctx:            ctx,
		cancel:         cancel,
		shutdownFunc:   shutdownFunc,
		latencyHistory: make([]float64, 0, 100),
		rpsHistory:     make([]float64, 0, 100),
		startTime:      time.Now(),
		cfg:            cfg,
	}

	d.initWidgets()
	d.setupGrid()

	return d, nil
}

func (d *Dashboard) initWidgets() {
	d.summaryPara = widgets.NewParagraph()
	d.summaryPara.Title = "Probe"
	d.summaryPara.Text = "Initializing..."
	d.summaryPara.BorderStyle.Fg = ui.ColorCyan

	d.vuGauge = widgets.NewGauge()
	d.vuGauge.Title = "Active VUs / Target"
	d.vuGauge.BarColor = ui.ColorMagenta
	d.vuGauge.BorderStyle.Fg = ui.ColorCyan
	d.vuGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	d.stageGauge = widgets.NewGauge()
	d.stageGauge.Title = "Stage Progress"
	d.stageGauge.BarColor = ui.ColorBlue
	d.stageGauge.BorderStyle.Fg = ui.ColorCyan
	d.stageGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	latency := widgets.NewSparkline()
	latency.Title = "P95 (ms)"
	latency.LineColor = ui.ColorGreen
	latency.Data = []float64{0}
	d.latencySparkle = widgets.NewSparklineGroup(latency)
	d.latencySparkle.Title = "Latency"
	d.latencySparkle.BorderStyle.Fg = ui.ColorCyan

	rps := widgets.NewSparkline()
	rps.Title = "req/s"
	rps.LineColor = ui.ColorBlue
	rps.Data = []float64{0}
	d.rpsSparkle = widgets.NewSparklineGroup(rps)
	d.rpsSparkle.Title = "Throughput"
	d.rpsSparkle.BorderStyle.Fg = ui.ColorCyan

	d.latencyPara = widgets.NewParagraph()
	d.latencyPara.Title = "Latency Stats"
	d.latencyPara.Text = "Waiting for data..."
	d.latencyPara.BorderStyle.Fg = ui.ColorCyan

	d.checkList = widgets.NewList()
	d.checkList.Title = "Checks"
	d.checkList.Rows = []string{"Awaiting data"}
	d.checkList.BorderStyle.Fg = ui.ColorCyan

	d.statusList = widgets.NewList()
	d.statusList.Title = "Status Codes"
	d.statusList.Rows = []string{"Awaiting data"}
	d.statusList.TextStyle = ui.NewStyle(ui.ColorYellow)
	d.statusList.BorderStyle.Fg = ui.ColorCyan

	d.hostPara = widgets.NewParagraph()
	d.hostPara.Title = "Load Generator"
	d.hostPara.Text = "Host sampling off"
	d.hostPara.BorderStyle.Fg = ui.ColorCyan
}

func (d *Dashboard) setupGrid() {
	termWidth, termHeight := ui.TerminalDimensions()

	d.grid = ui.NewGrid()
	d.grid.SetRect(0, 0, termWidth, termHeight)

	d.grid.Set(
		ui.NewRow(0.14,
			ui.NewCol(1.0, d.summaryPara),
		),
		ui.NewRow(0.12,
			ui.NewCol(0.5, d.vuGauge),
			ui.NewCol(0.5, d.stageGauge),
		),
		ui.NewRow(0.26,
			ui.NewCol(0.35, d.rpsSparkle),
			ui.NewCol(0.35, d.latencySparkle),
			ui.NewCol(0.3, d.latencyPara),
		),
		ui.NewRow(0.48,
			ui.NewCol(0.4, d.checkList),
			ui.NewCol(0.3, d.statusList),
			ui.NewCol(0.3, d.hostPara),
		),
	)
}

// Start begins the dashboard update loop.
func (d *Dashboard) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop stops the dashboard and cleans up.
func (d *Dashboard) Stop() {
	d.cancel()
	d.wg.Wait()
	d.testDuration = time.Since(d.startTime)
	ui.Close()
	// Give terminal time to restore
	time.Sleep(100 * time.Millisecond)
}

// GetFinalStats returns the final statistics after the dashboard has stopped.
func (d *Dashboard) GetFinalStats() metrics.Stats {
	return d.collector.Stats(d.testDuration)
}

func (d *Dashboard) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	uiEvents := ui.PollEvents()

	d.render()

	for {
		select {
		case <-d.ctx.Done():
			for len(uiEvents) > 0 {
				<-uiEvents
			}
			return
		case e := <-uiEvents:
			select {
			case <-d.ctx.Done():
				return
			default:
			}

			switch e.ID {
			case "q", "<C-c>":
				if d.shutdownFunc != nil {
					d.shutdownFunc()
				}
				// Stop() cancels the context once the runner has drained.
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				d.grid.SetRect(0, 0, payload.Width, payload.Height)
				ui.Clear()
				d.render()
			}
		case <-ticker.C:
			d.update()
			d.render()
		}
	}
}

func (d *Dashboard) update() {
	d.mu.Lock()
	defer d.mu.Unlock()

	elapsed := time.Since(d.startTime)
	stats := d.collector.Stats(elapsed)

	// The run loop snapshots once per second; reuse its latest point.
	if history := d.collector.History(); len(history) > 0 {
		current := history[len(history)-1].CurrentRPS
		d.rpsHistory = appendBounded(d.rpsHistory, current, 100)
		d.rpsSparkle.Sparklines[0].Data = d.rpsHistory
		d.rpsSparkle.Title = fmt.Sprintf("Throughput | %.1f req/s", current)
	}

	if stats.Total > 0 {
		d.latencyHistory = appendBounded(d.latencyHistory, stats.P95LatencyMs, 100)
		d.latencySparkle.Sparklines[0].Data = d.latencyHistory
		d.latencySparkle.Title = fmt.Sprintf("Latency | P95 %.1fms | Max %.1fms", stats.P95LatencyMs, stats.MaxLatencyMs)
	}

	d.summaryPara.Text = fmt.Sprintf("Target: %s\n%s\nElapsed: %s | Requests: %d | Failed: %.2f%% | Iterations: %d",
		d.cfg.TargetURL,
		d.formatRunParams(),
		elapsed.Round(time.Second),
		stats.Total,
		stats.FailureRate*100,
		stats.Iterations,
	)

	targetVUs, stage, ok := 0, 0, false
	if d.target != nil {
		targetVUs, stage, ok = d.target(elapsed)
	}
	d.vuGauge.Percent, d.vuGauge.Label = vuGauge(stats.VUs, targetVUs, stats.VUsMax)
	if ok {
		d.stageGauge.Percent, d.stageGauge.Label = stageGauge(d.cfg.Stages, stage, elapsed)
	} else {
		d.stageGauge.Percent, d.stageGauge.Label = 100, "Ramp complete"
	}

	d.latencyPara.Text = fmt.Sprintf("Min:  %.2fms\nMean: %.2fms\nP50:  %.2fms\nP90:  %.2fms\nP95:  %.2fms\nP99:  %.2fms",
		stats.MinLatencyMs,
		stats.MeanLatencyMs,
		stats.P50LatencyMs,
		stats.P90LatencyMs,
		stats.P95LatencyMs,
		stats.P99LatencyMs,
	)

	d.checkList.Rows = formatCheckRows(stats.Checks)
	d.statusList.Rows = formatStatusRows(stats.StatusCodes, stats.Errors)
	if d.host != nil {
		if sample, ok := d.host(); ok {
			d.hostPara.Text = formatHostSample(sample)
		}
	}
}

func (d *Dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()

	ui.Render(d.grid)
}

func appendBounded(history []float64, v float64, limit int) []float64 {
	history = append(history, v)
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}

// vuGauge shows active VUs against the scheduled target, scaling to the peak when ramping down.
func vuGauge(active, target, peak int) (int, string) {
	scale := target
	if peak > scale {
		scale = peak
	}
	if scale <= 0 {
		return 0, fmt.Sprintf("%d / %d", active, target)
	}
	pct := active * 100 / scale
	if pct > 100 {
		pct = 100
	}
	return pct, fmt.Sprintf("%d / %d", active, target)
}

// stageGauge reports how far into the current stage elapsed is.
func stageGauge(stages []Stage, idx int, elapsed time.Duration) (int, string) {
	if idx < 0 || idx >= len(stages) {
		return 0, "n/a"
	}
	var start time.Duration
	for i := 0; i < idx; i++ {
		start += stages[i].Duration
	}
	st := stages[idx]
	pct := 100
	if st.Duration > 0 {
		pct = int((elapsed - start) * 100 / st.Duration)
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct, fmt.Sprintf("Stage %d/%d -> %d VUs over %s", idx+1, len(stages), st.Target, st.Duration)
}

func formatCheckRows(checks []metrics.CheckStats) []string {
	if len(checks) == 0 {
		return []string{"Awaiting data"}
	}
	rows := make([]string, 0, len(checks))
	for _, c := range checks {
		color := "green"
		mark := "✓"
		if c.Fails > 0 {
			color = "red"
			mark = "✗"
		}
		rows = append(rows, fmt.Sprintf("[%s %s](fg:%s) %.1f%% (%d/%d)", mark, c.Name, color, c.Rate*100, c.Passes, c.Passes+c.Fails))
	}
	return rows
}

func formatStatusRows(codes, errs map[string]int) []string {
	statusRows := metrics.FlattenStatusBuckets(codes)
	errorRows := metrics.FlattenStatusBuckets(errs)
	if len(statusRows) == 0 && len(errorRows) == 0 {
		return []string{"Awaiting data"}
	}
	formatted := make([]string, 0, len(statusRows)+len(errorRows))
	for _, row := range statusRows {
		color := "green"
		if !strings.HasPrefix(row.Code, "2") && !strings.HasPrefix(row.Code, "3") {
			color = "red"
		}
		formatted = append(formatted, fmt.Sprintf("[%s](fg:%s) %d", row.Code, color, row.Count))
	}
	for _, row := range errorRows {
		formatted = append(formatted, fmt.Sprintf("[%s](fg:red) %d", row.Code, row.Count))
	}
	if len(formatted) > 10 {
		formatted = formatted[:10]
	}
	return formatted
}

func formatHostSample(s hoststats.Sample) string {
	text := fmt.Sprintf("CPU:   %.1f%%\nMem:   %.1f%%\nLoad1: %.2f\nProc:  %.1f%% CPU, %d MiB",
		s.CPUPercent, s.MemUsedPercent, s.Load1, s.ProcessCPU, s.ProcessRSS>>20)
	if s.CPUPercent >= hoststats.SaturationCPUPercent {
		text += "\n[Generator saturated](fg:red,mod:bold)"
	}
	return text
}

func (d *Dashboard) formatRunParams() string {
	var parts []string

	if d.cfg.Profile != "" {
		parts = append(parts, fmt.Sprintf("Profile: %s", d.cfg.Profile))
	}

	if d.cfg.RPS > 0 {
		parts = append(parts, fmt.Sprintf("Rate: %d/s", d.cfg.RPS))
	} else {
		parts = append(parts, "Rate: unlimited")
	}

	if len(d.cfg.Stages) > 0 {
		var total time.Duration
		peak := 0
		for _, s := range d.cfg.Stages {
			total += s.Duration
			if s.Target > peak {
				peak = s.Target
			}
		}
		parts = append(parts, fmt.Sprintf("Stages: %d (%s, peak %d VUs)", len(d.cfg.Stages), total, peak))
	}

	if d.cfg.Timeout > 0 {
		parts = append(parts, fmt.Sprintf("Timeout: %s", d.cfg.Timeout))
	}

	if d.cfg.ConfigFile != "" {
		parts = append(parts, fmt.Sprintf("Config: %s", d.cfg.ConfigFile))
	}

	return strings.Join(parts, " | ")
}
