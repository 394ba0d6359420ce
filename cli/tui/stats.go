package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/meadowgrid/texserv/metrics"
)

// StatsModel is a Bubble Tea model for stats views.
type StatsModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewStatsModel creates a new stats model.
func NewStatsModel(viewType string, data any) StatsModel {
	return StatsModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case "stats_delivery":
		content = m.renderStatsDelivery()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m StatsModel) renderStatsDelivery() string {
	data, ok := m.data.(*metrics.Snapshot)
	if !ok {
		return "Invalid data type for stats_delivery"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Delivery Statistics"))
	b.WriteString("\n\n")

	requestBoxes := []string{
		m.renderStatBox("Requests", data.RequestsReceived, highlightColor),
		m.renderStatBox("Coalesced", data.RequestsCoalesced, warningColor),
		m.renderStatBox("Cancels", data.CancelSignals, mutedColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, requestBoxes...))
	b.WriteString("\n")

	fetchBoxes := []string{
		m.renderStatBox("Fetches", data.FetchesIssued, highlightColor),
		m.renderStatBox("Not Found", data.FetchesNotFound, errorColor),
		m.renderStatBox("Enqueued", data.Enqueued, successColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, fetchBoxes...))
	b.WriteString("\n")

	sendBoxes := []string{
		m.renderStatBox("Delivered", data.SendsCompleted, successColor),
		m.renderStatBox("Aborted", data.SendsAborted, errorColor),
		m.renderStatBox("Packets", data.PacketsSent, highlightColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, sendBoxes...))

	b.WriteString("\n\n")
	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Bytes Sent:"),
		ValueStyle.Render(fmt.Sprintf("%d", data.BytesSent))))
	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Pending:"),
		ValueStyle.Render(fmt.Sprintf("%d", data.PendingDownloads))))
	if data.StorageBackend != "" {
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render("Backend:"),
			ValueStyle.Render(data.StorageBackend)))
	}
	if data.NodeID != "" {
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render("Node:"),
			ValueStyle.Render(data.NodeID)))
	}

	if data.OrphanCompletions > 0 {
		b.WriteString("\n")
		b.WriteString(ErrorStyle.Render(
			fmt.Sprintf("orphan completions: %d", data.OrphanCompletions)))
	}

	return b.String()
}

func (m StatsModel) renderStatBox(label string, value int64, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)

	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)

	return boxStyle.Render(content)
}

// RunStatsTUI runs the stats TUI.
func RunStatsTUI(viewType string, data any) error {
	model := NewStatsModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderStatsStatic renders stats data without full TUI (for fallback).
func RenderStatsStatic(viewType string, data any) string {
	model := NewStatsModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
