package server

import (
	"html/template"
	"strconv"

	"github.com/invisible-tech/aion/internal/kernel"
)

type homeView struct {
	Version  string
	Snapshot *kernel.Snapshot
}

var homeTemplate = template.Must(template.New("home").Funcs(template.FuncMap{
	"pct": formatPct,
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta http-equiv="refresh" content="5">
  <title>AION Kernel</title>
  <style>
    body { font-family: system-ui, sans-serif; background: #0b1020; color: #e6e9f2; margin: 2rem; }
    .card { max-width: 44rem; margin: auto; background: #141a33; border-radius: 12px; padding: 1.5rem 2rem; }
    .badge { font-size: .75rem; letter-spacing: .08em; text-transform: uppercase; color: #8aa0ff; }
    table { width: 100%; border-collapse: collapse; margin-top: 1rem; }
    td, th { text-align: left; padding: .35rem .5rem; border-bottom: 1px solid #232b52; }
    .metric { display: inline-block; margin-right: 2.5rem; }
    .value { font-size: 1.8rem; font-weight: 600; }
    a { color: #8aa0ff; }
  </style>
</head>
<body>
  <div class="card">
    <span class="badge">AION · v{{.Version}} · tick {{.Snapshot.Tick}}</span>
    <h1>System Snapshot</h1>
    <div class="metric">
      <div>Health</div>
      <div class="value">{{printf "%.3f" .Snapshot.OverallHealth}}</div>
      <div>{{.Snapshot.OverallLabel}}</div>
    </div>
    <div class="metric">
      <div>Awareness</div>
      <div class="value">{{printf "%.3f" .Snapshot.Awareness}}</div>
      <div>{{.Snapshot.AwarenessLabel}}</div>
    </div>
    <p>Policy: {{.Snapshot.Policy}} · Simulation: {{.Snapshot.SimLevel}} · Logs: {{.Snapshot.LogFilter}}</p>
    <table>
      <tr><th>Organ</th><th>Node</th><th>Health</th><th>Tier</th></tr>
      {{range .Snapshot.Organs}}<tr><td>{{.Kind}}</td><td>{{.Node}}</td><td>{{pct .Health}}</td><td>{{.Tier}}</td></tr>
      {{end}}
    </table>
    {{with .Snapshot.Alerts}}<h2>Recent alerts</h2>
    <table>
      <tr><th>Tick</th><th>Subject</th><th>From</th><th>To</th></tr>
      {{range .}}<tr><td>{{.Tick}}</td><td>{{.Subject}}</td><td>{{.From}}</td><td>{{.To}}</td></tr>
      {{end}}
    </table>{{end}}
    <p><a href="/status">/status</a> · <a href="/api/v1/snapshot">/api/v1/snapshot</a> · <a href="/metrics">/metrics</a></p>
  </div>
</body>
</html>
`))

func formatPct(v float64) string {
	return strconv.FormatFloat(v*100, 'f', 1, 64) + "%"
}
