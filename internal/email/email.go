// Package email renders the daily digest as an HTML email and delivers it
// over SMTP, one isolated message per recipient.
package email

import (
	"bytes"
	"fmt"
	"html/template"

	"infodigest/internal/core"
)

// Template holds the visual configuration of the digest email.
type Template struct {
	Name            string
	HeaderColor     string
	BackgroundColor string
	TextColor       string
	LinkColor       string
	BorderColor     string
	MaxWidth        string
	FontFamily      string
}

// DefaultTemplate returns the standard digest look.
func DefaultTemplate() *Template {
	return &Template{
		Name:            "default",
		HeaderColor:     "#2563eb",
		BackgroundColor: "#f8fafc",
		TextColor:       "#1e293b",
		LinkColor:       "#3b82f6",
		BorderColor:     "#e2e8f0",
		MaxWidth:        "600px",
		FontFamily:      "system-ui, -apple-system, 'Segoe UI', Roboto, sans-serif",
	}
}

// UnitView is one information unit prepared for rendering.
type UnitView struct {
	Title       string
	Summary     string
	Analysis    string
	KeyInsights []string
	ValueScore  string
	SourceCount int
	Sources     []core.SourceReference
	Tags        []string
}

// DigestView is the full data model of one digest email.
type DigestView struct {
	Title         string
	Date          string
	DailySummary  string
	TopPicks      []UnitView
	QuickReads    []UnitView
	TotalUnits    int
	TotalArticles int
	HasChart      bool
}

// Subject returns the digest subject line for a date string.
func Subject(date string) string {
	return "AI Digest - " + date
}

// BuildDigestView converts curated units into the render model.
func BuildDigestView(digest core.Digest, summary string, topPicks, quickReads []core.InformationUnit, hasChart bool) DigestView {
	view := DigestView{
		Title:         "AI Digest",
		Date:          digest.Date.Format("2006-01-02"),
		DailySummary:  summary,
		TotalUnits:    len(topPicks) + len(quickReads),
		TotalArticles: digest.TotalFetched,
		HasChart:      hasChart,
	}
	for _, u := range topPicks {
		view.TopPicks = append(view.TopPicks, unitView(u))
	}
	for _, u := range quickReads {
		view.QuickReads = append(view.QuickReads, unitView(u))
	}
	return view
}

func unitView(u core.InformationUnit) UnitView {
	return UnitView{
		Title:       u.Title,
		Summary:     u.Summary,
		Analysis:    u.AnalysisContent,
		KeyInsights: u.KeyInsights,
		ValueScore:  fmt.Sprintf("%.1f", u.ValueScore()),
		SourceCount: u.MergedCount,
		Sources:     u.Sources,
		Tags:        u.Tags,
	}
}

func css(tmpl *Template) string {
	return fmt.Sprintf(`
<style type="text/css">
  body {
    margin: 0;
    padding: 0;
    background-color: %s;
    font-family: %s;
    color: %s;
    line-height: 1.6;
  }
  .container {
    max-width: %s;
    margin: 0 auto;
    background-color: #ffffff;
    border: 1px solid %s;
    border-radius: 8px;
    overflow: hidden;
  }
  .header {
    background-color: %s;
    color: #ffffff;
    padding: 24px;
    text-align: center;
  }
  .header h1 { margin: 0; font-size: 24px; font-weight: 600; }
  .header .date { margin: 8px 0 0 0; font-size: 14px; opacity: 0.9; }
  .content { padding: 24px; }
  h2 {
    color: %s;
    font-size: 20px;
    font-weight: 600;
    margin: 32px 0 16px 0;
    border-bottom: 2px solid %s;
    padding-bottom: 8px;
  }
  a { color: %s; text-decoration: none; }
  a:hover { text-decoration: underline; }
  .unit-card {
    background-color: #f8fafc;
    border: 1px solid %s;
    border-radius: 6px;
    padding: 20px;
    margin: 16px 0;
  }
  .unit-title { font-size: 18px; font-weight: 600; margin: 0 0 8px 0; }
  .unit-score { font-size: 13px; color: #64748b; }
  .unit-summary { font-size: 15px; margin: 8px 0; }
  .unit-insight {
    background-color: #fef3c7;
    padding: 8px 12px;
    border-radius: 4px;
    margin: 8px 0;
    border-left: 4px solid #f59e0b;
    font-size: 14px;
  }
  .unit-sources { font-size: 13px; color: #64748b; margin-top: 12px; }
  .quick-read { margin: 8px 0; font-size: 15px; }
  .footer {
    background-color: #f1f5f9;
    padding: 20px 24px;
    text-align: center;
    font-size: 13px;
    color: #64748b;
    border-top: 1px solid %s;
  }
</style>
`,
		tmpl.BackgroundColor, tmpl.FontFamily, tmpl.TextColor, tmpl.MaxWidth,
		tmpl.BorderColor, tmpl.HeaderColor, tmpl.TextColor, tmpl.BorderColor,
		tmpl.LinkColor, tmpl.BorderColor, tmpl.BorderColor)
}

const digestTemplate = `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Data.Title}}</title>
    {{.CSS}}
</head>
<body>
    <table role="presentation" cellspacing="0" cellpadding="0" border="0" width="100%">
        <tr>
            <td align="center">
                <div class="container">
                    <div class="header">
                        <h1>{{.Data.Title}}</h1>
                        <p class="date">{{.Data.Date}}</p>
                    </div>
                    <div class="content">
                        {{if .Data.DailySummary}}
                        <p>{{.Data.DailySummary}}</p>
                        {{end}}

                        {{if .Data.HasChart}}
                        <img src="cid:trend_chart" alt="Trend chart" width="100%" />
                        {{end}}

                        {{if .Data.TopPicks}}
                        <h2>Top Picks</h2>
                        {{range .Data.TopPicks}}
                        <div class="unit-card">
                            <div class="unit-title">{{.Title}}</div>
                            <div class="unit-score">Value {{.ValueScore}} &middot; {{.SourceCount}} source{{if gt .SourceCount 1}}s{{end}}</div>
                            {{if .Summary}}<div class="unit-summary">{{.Summary}}</div>{{end}}
                            {{range .KeyInsights}}
                            <div class="unit-insight">{{.}}</div>
                            {{end}}
                            {{if .Analysis}}<div class="unit-summary">{{.Analysis}}</div>{{end}}
                            <div class="unit-sources">
                                {{range .Sources}}<a href="{{.URL}}">{{.SourceName}}</a>&nbsp;{{end}}
                            </div>
                        </div>
                        {{end}}
                        {{end}}

                        {{if .Data.QuickReads}}
                        <h2>Quick Reads</h2>
                        {{range .Data.QuickReads}}
                        <div class="quick-read">
                            &bull; {{.Title}}{{if .Summary}} &mdash; {{.Summary}}{{end}}
                            {{with index .Sources 0}}<a href="{{.URL}}">[link]</a>{{end}}
                        </div>
                        {{end}}
                        {{end}}
                    </div>
                    <div class="footer">
                        <p>{{.Data.TotalUnits}} items from {{.Data.TotalArticles}} articles on {{.Data.Date}}.</p>
                    </div>
                </div>
            </td>
        </tr>
    </table>
</body>
</html>`

// RenderHTML renders the digest view into HTML. User-provided text passes
// through html/template and is escaped automatically.
func RenderHTML(data DigestView, tmpl *Template) (string, error) {
	if tmpl == nil {
		tmpl = DefaultTemplate()
	}
	t, err := template.New("digest").Parse(digestTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse digest template: %w", err)
	}
	payload := struct {
		Data DigestView
		CSS  template.HTML
	}{Data: data, CSS: template.HTML(css(tmpl))}

	var buf bytes.Buffer
	if err := t.Execute(&buf, payload); err != nil {
		return "", fmt.Errorf("failed to render digest template: %w", err)
	}
	return buf.String(), nil
}
