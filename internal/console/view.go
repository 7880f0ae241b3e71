package console

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/rasac/internal/curve"
)

// View renders the console
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	switch m.mode {
	case modeCurve:
		b.WriteString(m.renderDrawer())
	case modeConfirmDelete:
		b.WriteString(m.renderList())
		b.WriteString("\n")
		b.WriteString(m.renderConfirm())
	default:
		b.WriteString(m.renderList())
	}

	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return containerStyle.Render(b.String())
}

func (m Model) renderHeader() string {
	header := headerStyle.Render(" rasac console ")

	parts := []string{
		dimStyle.Render("Models:") + " " + valueStyle.Render(fmt.Sprintf("%d", len(m.models))),
	}
	if m.latest != "" {
		parts = append(parts, dimStyle.Render("Latest:")+" "+latestStyle.Render(m.latest))
	}
	if m.training != "" {
		parts = append(parts, warningStyle.Render("● training"))
	}
	if m.inflight != opNone {
		parts = append(parts, m.spinner.View()+dimStyle.Render(string(m.inflight)))
	}
	if !m.lastUpdate.IsZero() {
		parts = append(parts, dimStyle.Render(m.lastUpdate.Format("3:04:05 PM")))
	}
	return header + "\n" + strings.Join(parts, "   ")
}

func (m Model) renderList() string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render("┃ Models"))
	b.WriteString("\n")

	if len(m.models) == 0 {
		if m.inflight == opRefresh {
			b.WriteString(dimStyle.Render("  loading..."))
		} else {
			b.WriteString(dimStyle.Render("  no trained models"))
		}
		return b.String()
	}

	b.WriteString(labelStyle.Render(fmt.Sprintf("  %-26s %-19s %6s %9s %9s", "MODEL", "TRAINED", "EPOCHS", "TEST ACC", "TEST LOSS")))
	b.WriteString("\n")

	start, end := m.paginator.GetSliceBounds(len(m.models))
	for i := start; i < end; i++ {
		s := m.models[i]
		row := fmt.Sprintf("%-26s %-19s %6s %9s %9s",
			s.ModelID, FormatTrainedAt(s.ModelID), FormatEpochs(s.Epochs), s.TestAcc, s.TestLoss)
		marker := "  "
		if s.ModelID == m.latest {
			marker = latestStyle.Render("★ ")
		}
		if i == m.cursor {
			row = selectedStyle.Render(row)
		}
		b.WriteString(marker + row + "\n")
	}
	if m.paginator.TotalPages > 1 {
		b.WriteString("  " + m.paginator.View())
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderConfirm() string {
	sel, ok := m.selected()
	if !ok {
		return ""
	}
	return dialogStyle.Render(
		errorStyle.Render("Delete "+sel.ModelID+"?") + "\n" +
			dimStyle.Render("This removes the model archive from the backend."),
	)
}

func (m Model) renderDrawer() string {
	d := m.drawer
	if d == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString(sectionStyle.Render("┃ " + d.modelID))
	b.WriteString("\n")

	if d.selection == nil {
		b.WriteString(m.spinner.View() + dimStyle.Render(" loading curves..."))
		return b.String()
	}

	view := labelStyle.Render("Accuracy") + dimStyle.Render(" │ ") + valueStyle.Render("[Loss]")
	if !d.showLoss {
		view = valueStyle.Render("[Accuracy]") + dimStyle.Render(" │ ") + labelStyle.Render("Loss")
	}
	legend := trainSeriesStyle.Render("── train") + "  " + testSeriesStyle.Render("── test")
	if d.showLoss && d.selection.Available() {
		legend += "  " + bandStyle.Render("── train band") + "  " + testBandStyle.Render("── test band")
	}
	b.WriteString(view + "   " + legend + "\n")

	width, height := defaultChartWidth, defaultChartHeight
	if m.width > 0 {
		width = m.width - 12
	}
	if m.height > 0 {
		height = min(m.height-16, 24)
	}
	b.WriteString(renderCurveChart(d.selection.Series(), d.selection.Insights(), d.showLoss, width, height))
	b.WriteString("\n")

	b.WriteString(sectionStyle.Render("┃ Insights"))
	b.WriteString("\n")
	b.WriteString(m.renderInsights(d.selection))
	return b.String()
}

func (m Model) renderInsights(sel *curve.Selection) string {
	ratio := float64(sel.Patience()-curve.MinPatience) / float64(curve.MaxPatience-curve.MinPatience)
	slider := labelStyle.Render("  Patience: ") +
		valueStyle.Render(fmt.Sprintf("%2d", sel.Patience())) + " " +
		dimStyle.Render(fmt.Sprintf("%d ", curve.MinPatience)) +
		m.slider.ViewAs(ratio) +
		dimStyle.Render(fmt.Sprintf(" %d", curve.MaxPatience))

	in := sel.Insights()
	if in == nil {
		return slider + "\n  " + warningStyle.Render(curve.Reason(sel.Err()))
	}

	chip := chipStyle.Render(fmt.Sprintf("Best epoch %d / %d", in.BestEpoch, in.Epochs))
	if in.BestTestLoss != nil {
		chip += "  " + labelStyle.Render("test loss ") + valueStyle.Render(fmt.Sprintf("%.4f", *in.BestTestLoss))
	}
	return slider + "\n  " + chip
}

func (m Model) renderFooter() string {
	var b strings.Builder
	if m.notice != nil {
		b.WriteString(noticeStyle(m.notice.level).Render(m.notice.text))
		b.WriteString("\n")
	}

	bindings := m.keys.listHelp()
	switch m.mode {
	case modeCurve:
		bindings = m.keys.curveHelp()
	case modeConfirmDelete:
		bindings = m.keys.confirmHelp()
	}
	b.WriteString(footerStyle.Render(m.help.ShortHelpView(bindings)))
	return b.String()
}
