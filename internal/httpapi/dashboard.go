package httpapi

import (
	"fmt"
	"html/template"
	"net/http"
	"time"

	"routerd/pkg/types"
)

var dashboardTmpl = template.Must(template.New("dashboard").Funcs(template.FuncMap{
	"unixTime": func(sec int64) string {
		if sec == 0 {
			return "never"
		}
		return time.Unix(sec, 0).Format(time.RFC3339)
	},
	"yesno": func(b bool) string {
		if b {
			return "yes"
		}
		return "no"
	},
	"pct": func(v *float64) string {
		if v == nil {
			return "unknown"
		}
		return fmt.Sprintf("%.0f%%", *v)
	},
	"mb": func(used, total *int) string {
		if used == nil || total == nil {
			return "unknown"
		}
		return fmt.Sprintf("%d / %d MB", *used, *total)
	},
}).Parse(`<!DOCTYPE html>
<html>
<head>
<title>routerd</title>
<style>
body { font-family: monospace; margin: 2em; background: #111; color: #ddd; }
table { border-collapse: collapse; margin-bottom: 1.5em; }
td, th { border: 1px solid #444; padding: 4px 10px; text-align: left; }
th { background: #222; }
.ok { color: #7c7; }
.bad { color: #c77; }
h1 { font-size: 1.2em; }
</style>
</head>
<body>
<h1>routerd</h1>
<table>
<tr><th>Backend</th><td class="{{if .Reachable}}ok{{else}}bad{{end}}">{{if .Reachable}}reachable{{else}}unreachable{{end}}{{if .Version}} (v{{.Version}}){{end}}</td></tr>
<tr><th>Last health check</th><td>{{unixTime .LastHealthCheckUnix}}</td></tr>
<tr><th>Auto-route</th><td>{{yesno .Routing.AutoRoute}}</td></tr>
<tr><th>Fallback target</th><td>{{.FallbackModel}}</td></tr>
</table>
<table>
<tr><th>Model</th><th>Name</th><th>Pulled</th><th>Loaded</th><th>Params</th><th>Quant</th></tr>
<tr><td>primary</td><td>{{.PrimaryModel.ConfigName}}</td><td>{{yesno .PrimaryModel.Pulled}}</td><td>{{yesno .PrimaryModel.Loaded}}</td><td>{{.PrimaryModel.ParameterSize}}</td><td>{{.PrimaryModel.Quantization}}</td></tr>
<tr><td>sidecar</td><td>{{.SidecarModel.ConfigName}}</td><td>{{yesno .SidecarModel.Pulled}}</td><td>{{yesno .SidecarModel.Loaded}}</td><td>{{.SidecarModel.ParameterSize}}</td><td>{{.SidecarModel.Quantization}}</td></tr>
</table>
<table>
<tr><th>GPU utilization</th><td>{{pct .GPU.Utilization}}</td></tr>
<tr><th>VRAM</th><td>{{mb .GPU.VRAMUsedMB .GPU.VRAMTotalMB}}</td></tr>
</table>
<table>
<tr><th>Decisions</th><td>{{.Routing.TotalDecisions}}</td></tr>
<tr><th>Primary</th><td>{{.Routing.PrimarySelections}}</td></tr>
<tr><th>Sidecar</th><td>{{.Routing.SidecarSelections}}</td></tr>
<tr><th>Fallback</th><td>{{.Routing.FallbackSelections}}</td></tr>
{{with .Routing.LastDecision}}
<tr><th>Last decision</th><td>{{.Target}} ({{.Source}}): {{.Reason}}</td></tr>
{{end}}
</table>
</body>
</html>
`))

func renderDashboard(w http.ResponseWriter, st types.StatusResponse) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTmpl.Execute(w, st); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to render dashboard")
	}
}
