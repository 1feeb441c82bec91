package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/drybox/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"reading": func(v float64, ok bool, unit string) string {
		if !ok {
			return "n/a"
		}
		return fmt.Sprintf("%.1f%s", v, unit)
	},
	"onOff": func(b bool) string {
		if b {
			return "ON"
		}
		return "OFF"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="10">
<title>Drybox</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.error { color: red; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Drybox</h1>

<h2>State</h2>
<table>
<tr><th>Mode</th><td id="mode" class="{{if .Panicked}}error{{end}}">{{.Mode}}</td></tr>
<tr><th>Phase</th><td id="phase">{{.Phase}}</td></tr>
{{if .Panicked}}<tr><th>Panic</th><td class="error">latched, restart required</td></tr>{{end}}
{{if .LastFault}}<tr><th>Last fault</th><td>{{.LastFault}}</td></tr>{{end}}
</table>

<h2>Readings</h2>
{{if .HasTelemetry}}{{with .Telemetry}}<table>
<tr><th>Temperature</th><td id="temperature">{{reading .Temperature .HasTemperature " °C"}}</td></tr>
<tr><th>Humidity</th><td id="humidity">{{reading .Humidity .HasHumidity " %RH"}}</td></tr>
<tr><th>Platform</th><td>{{reading .PlatformTemperature .HasPlatform " °C"}}</td></tr>
<tr><th>Setpoint</th><td>{{reading .Setpoint .HasSetpoint " °C"}}</td></tr>
<tr><th>Heater</th><td class="{{if .HeaterOn}}on{{else}}off{{end}}">{{onOff .HeaterOn}}</td></tr>
<tr><th>Recirculation</th><td>{{.Recirculation}}</td></tr>
<tr><th>Exhaust</th><td class="{{if .ExhaustOn}}on{{else}}off{{end}}">{{onOff .ExhaustOn}}</td></tr>
</table>{{end}}{{else}}<p>No readings yet.</p>{{end}}

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Absorptions</th><td>{{.Counts.Absorptions}}</td></tr>
<tr><th>Vents</th><td>{{.Counts.Vents}}</td></tr>
<tr><th>Panics</th><td>{{.Counts.Panics}}</td></tr>
<tr><th>Faults</th><td>{{.Counts.Faults}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Run</th><td>{{.RunID}}</td></tr>
<tr><th>Program</th><td>{{.Config.Mode}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Target</th><td>{{printf "%.1f" .Config.TargetTemperature}} °C / {{printf "%.1f" .Config.TargetHumidity}} %RH</td></tr>
<tr><th>Unsafe above</th><td>{{printf "%.1f" .Config.UnsafeTemperature}} °C</td></tr>
<tr><th>Refresh</th><td>{{.Config.RefreshMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}every sample{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
