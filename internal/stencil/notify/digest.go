package notify

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"
	"unicode/utf8"

	"es-schedule/internal/stencil/domain"
)

// Subject is the digest mail subject.
const Subject = "[AMES系統通知] SMT 鋼板逾期告警"

// TestSubjectPrefix marks digests sent in test mode.
const TestSubjectPrefix = "[測試] "

const engineeringNoLimit = 20

const digestTemplate = `<!DOCTYPE html>
<html><head><meta charset="UTF-8"></head>
<body style="font-family: 'Microsoft JhengHei', 'Segoe UI', sans-serif; padding: 20px;">
<div style="background: linear-gradient(135deg, #3b82f6, #8b5cf6); color: white; padding: 20px; border-radius: 10px;">
<h2 style="margin: 0;">🚨 {{.Title}}</h2>
<p style="margin: 5px 0 0 0; opacity: 0.9;">Stencil Overdue Alert Notification</p>
</div>
<div style="background: white; padding: 20px; margin-top: 15px;">
<p><strong>Hi~All,</strong></p>
<p>系統偵測到以下鋼板已達逾期條件，請儘速安排處理以避免影響生產線運作。</p>
<div style="background: #fef3c7; padding: 15px; border-radius: 8px; margin: 20px 0; border-left: 4px solid #f59e0b;">
<p style="margin: 0;"><strong>📊 統計資訊</strong></p>
<p style="margin: 5px 0 0 0;">• 檢查日期：<strong>{{.CheckDate}}</strong></p>
<p style="margin: 5px 0 0 0;">• 逾期數量：<strong>{{.Total}} 筆</strong>（警告: {{.Warning}}, 嚴重: {{.Severe}}, 緊急: {{.Urgent}}）</p>
</div>
<h4 style="margin: 25px 0 15px 0;">📋 逾期鋼板清單</h4>
<table style="width: 100%; border-collapse: collapse; font-size: 13px;">
<thead><tr style="background: #eff6ff;">
<th style="padding: 10px; border: 1px solid #cbd5e1; text-align: left;">層級</th>
<th style="padding: 10px; border: 1px solid #cbd5e1; text-align: left;">鋼板編號</th>
<th style="padding: 10px; border: 1px solid #cbd5e1; text-align: left;">工程編號</th>
<th style="padding: 10px; border: 1px solid #cbd5e1; text-align: center;">使用率</th>
<th style="padding: 10px; border: 1px solid #cbd5e1; text-align: center;">已用/可用</th>
<th style="padding: 10px; border: 1px solid #cbd5e1; text-align: left;">逾期原因</th>
<th style="padding: 10px; border: 1px solid #cbd5e1; text-align: left;">上線日期</th>
<th style="padding: 10px; border: 1px solid #cbd5e1; text-align: left;">儲位</th>
</tr></thead>
<tbody>
{{- range .Rows}}
<tr style="{{.RowStyle}}">
<td style="padding: 10px; border: 1px solid #cbd5e1;"><strong style="color: {{.LevelColor}};">{{.Level}}</strong></td>
<td style="padding: 10px; border: 1px solid #cbd5e1;">{{.StencilNo}}</td>
<td style="padding: 10px; border: 1px solid #cbd5e1;">{{.EngineeringNo}}</td>
<td style="padding: 10px; border: 1px solid #cbd5e1; text-align: center;">{{.UsageRate}}</td>
<td style="padding: 10px; border: 1px solid #cbd5e1; text-align: center;">{{.Used}} / {{.Max}}</td>
<td style="padding: 10px; border: 1px solid #cbd5e1;">{{.Reason}}</td>
<td style="padding: 10px; border: 1px solid #cbd5e1;">{{.OnlineDate}}</td>
<td style="padding: 10px; border: 1px solid #cbd5e1;">{{.Location}}</td>
</tr>
{{- end}}
</tbody></table>
<div style="background: #dbeafe; padding: 15px; border-radius: 8px; margin: 25px 0; border-left: 4px solid #3b82f6;">
<p style="margin: 0;"><strong>💡 處理建議</strong></p>
<p style="margin: 5px 0 0 0;">• <strong>緊急/嚴重</strong>：請立即安排鋼板更換作業</p>
<p style="margin: 5px 0 0 0;">• <strong>警告</strong>：請提前準備新鋼板，避免影響生產排程</p>
</div>
<hr style="border: none; border-top: 1px solid #e5e7eb; margin: 25px 0;">
<p style="font-size: 12px; color: #6b7280;">此為系統自動發送的通知郵件，如有疑問請聯繫 IT 部門。<br/>
查詢路徑：AMES系統 → PCB管理 → PCB016 鋼板量測記錄</p>
</div></body></html>
`

type tierStyle struct {
	row   template.CSS
	color template.CSS
	icon  string
}

var tierStyles = map[domain.Tier]tierStyle{
	domain.TierUrgent:  {row: "background: #fee2e2;", color: "#dc2626", icon: "🔴"},
	domain.TierSevere:  {row: "background: #fed7aa;", color: "#ea580c", icon: "🟠"},
	domain.TierWarning: {row: "background: #fef3c7;", color: "#ca8a04", icon: "🟡"},
}

// DigestRow is one rendered table row.
type DigestRow struct {
	RowStyle      template.CSS
	LevelColor    template.CSS
	Level         string
	StencilNo     string
	EngineeringNo string
	UsageRate     string
	Used          int
	Max           int
	Reason        string
	OnlineDate    string
	Location      string
}

// DigestData feeds the digest template.
type DigestData struct {
	Title     string
	CheckDate string
	Total     int
	Warning   int
	Severe    int
	Urgent    int
	Rows      []DigestRow
}

// Digest renders the overdue stencil digest.
type Digest struct {
	tpl *template.Template
}

// NewDigest parses the digest template.
func NewDigest() (*Digest, error) {
	parsed, err := template.New("stencil-digest").Parse(digestTemplate)
	if err != nil {
		return nil, err
	}
	return &Digest{tpl: parsed}, nil
}

// Build assembles template data from classified assets.
func Build(assets []domain.Asset, checkedAt time.Time) DigestData {
	counts := domain.CountByTier(assets)
	data := DigestData{
		Title:     Subject,
		CheckDate: checkedAt.Format("2006/01/02"),
		Total:     len(assets),
		Warning:   counts[domain.TierWarning],
		Severe:    counts[domain.TierSevere],
		Urgent:    counts[domain.TierUrgent],
		Rows:      make([]DigestRow, 0, len(assets)),
	}
	for _, a := range assets {
		data.Rows = append(data.Rows, buildRow(a))
	}
	return data
}

func buildRow(a domain.Asset) DigestRow {
	style, ok := tierStyles[a.Tier]
	level := string(a.Tier)
	if ok {
		level = style.icon + " " + level
	} else {
		style.color = "#374151"
	}

	rate := "-"
	if r := a.UsageRate(); r.Valid && r.Decimal.IsPositive() {
		rate = r.Decimal.StringFixed(1) + "%"
	}

	reason := a.Reason
	if a.Tier == domain.TierUrgent && a.DaysOnline != nil {
		reason += fmt.Sprintf(" (%d天)", *a.DaysOnline)
	}

	online := "-"
	if a.OnDate != nil {
		online = a.OnDate.Format("2006/01/02")
	}

	return DigestRow{
		RowStyle:      style.row,
		LevelColor:    style.color,
		Level:         level,
		StencilNo:     a.StencilNo,
		EngineeringNo: truncate(orDash(a.EngineeringNo), engineeringNoLimit),
		UsageRate:     rate,
		Used:          a.UsedCount,
		Max:           a.MaxUses,
		Reason:        reason,
		OnlineDate:    online,
		Location:      orDash(a.StorageLocation),
	}
}

// Render produces the HTML body.
func (d *Digest) Render(data DigestData) (string, error) {
	if d == nil || d.tpl == nil {
		return "", errors.New("stencil digest: nil template")
	}
	var buf bytes.Buffer
	if err := d.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Summary renders a plain text version for chat channels.
func Summary(data DigestData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", data.Title)
	fmt.Fprintf(&b, "檢查日期: %s\n", data.CheckDate)
	fmt.Fprintf(&b, "逾期數量: %d (警告: %d, 嚴重: %d, 緊急: %d)\n", data.Total, data.Warning, data.Severe, data.Urgent)
	for _, row := range data.Rows {
		fmt.Fprintf(&b, "%s %s %s %s\n", row.Level, row.StencilNo, row.UsageRate, row.Reason)
	}
	return strings.TrimSpace(b.String())
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
