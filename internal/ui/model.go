// Package ui is the terminal front end of the capture client.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lexiqai/transcription-gateway/internal/capture"
	"github.com/lexiqai/transcription-gateway/internal/protocol"
	"github.com/lexiqai/transcription-gateway/internal/stt"
)

// Controller is the part of the capture controller the TUI drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	SetDiarize(diarize bool) error
	Snapshot() capture.State
}

// Model is the root bubbletea model for the capture client.
type Model struct {
	ctrl      Controller
	serverURL string

	status   capture.Status
	diarize  bool
	segments []protocol.Segment
	level    float64
	speaking bool

	reconnectAttempt int
	reconnectDelay   time.Duration

	errorMessage string
	notice       string

	width            int
	height           int
	transcriptLive   bool
	transcriptScroll int
}

// New creates a model over ctrl, seeded from its current state.
func New(ctrl Controller, serverURL string) Model {
	st := ctrl.Snapshot()
	return Model{
		ctrl:           ctrl,
		serverURL:      serverURL,
		status:         st.Status,
		diarize:        st.Diarize,
		segments:       st.Segments,
		transcriptLive: true,
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func startCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		if err := ctrl.Start(context.Background()); err != nil {
			return ActionErrorMsg{Err: err}
		}
		return nil
	}
}

func stopCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		if err := ctrl.Stop(); err != nil {
			return ActionErrorMsg{Err: err}
		}
		return nil
	}
}

func clearNoticeCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return ClearNoticeMsg{}
	})
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case EventMsg:
		return m, m.handleEvent(msg.Event)

	case ActionErrorMsg:
		m.errorMessage = msg.Err.Error()
		return m, nil

	case ClearNoticeMsg:
		m.notice = ""
		return m, nil
	}

	return m, nil
}

func (m *Model) handleEvent(ev capture.Event) tea.Cmd {
	switch ev.Kind {
	case capture.EventStatus:
		m.status = ev.Status
		switch {
		case ev.Err != nil:
			m.errorMessage = ev.Err.Error()
		case ev.Status == capture.StatusConnecting || ev.Status == capture.StatusRecording:
			m.errorMessage = ""
		}
		if ev.Status == capture.StatusRecording || ev.Status == capture.StatusIdle {
			m.reconnectDelay = 0
		}
		m.reconnectAttempt = m.ctrl.Snapshot().ReconnectAttempt

	case capture.EventSegment, capture.EventSegments:
		m.segments = m.ctrl.Snapshot().Segments
		if m.transcriptLive {
			m.transcriptScroll = 0
		}

	case capture.EventLevel:
		m.level = ev.Level
		m.speaking = ev.Speaking

	case capture.EventReconnect:
		m.reconnectAttempt = ev.Attempt
		m.reconnectDelay = ev.Delay

	case capture.EventNotice:
		m.notice = ev.Message
		return clearNoticeCmd()
	}
	return nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeyQuit, KeyQuitUpper, KeyCtrlC:
		return m, tea.Quit

	case KeySpace:
		switch m.status {
		case capture.StatusConnecting, capture.StatusRecording:
			return m, stopCmd(m.ctrl)
		case capture.StatusStopping:
			return m, nil
		}
		if m.status == capture.StatusError && m.reconnectDelay > 0 {
			// cancel the pending reconnect
			return m, stopCmd(m.ctrl)
		}
		m.errorMessage = ""
		return m, startCmd(m.ctrl)

	case KeyDiarize:
		if err := m.ctrl.SetDiarize(!m.diarize); err != nil {
			m.notice = "Diarization can only change while idle"
			return m, clearNoticeCmd()
		}
		m.diarize = !m.diarize
		return m, nil

	case KeyUp, KeyK:
		m.transcriptLive = false
		if m.transcriptScroll < m.maxScroll() {
			m.transcriptScroll++
		}
		return m, nil

	case KeyDown, KeyJ:
		if m.transcriptScroll > 0 {
			m.transcriptScroll--
		}
		if m.transcriptScroll == 0 {
			m.transcriptLive = true
		}
		return m, nil

	case KeyEnd:
		m.transcriptScroll = 0
		m.transcriptLive = true
		return m, nil
	}
	return m, nil
}

// transcriptHeight is the number of transcript rows: the window minus
// header, status bar, two dividers, message bar and footer.
func (m Model) transcriptHeight() int {
	return max(1, m.height-6)
}

func (m Model) maxScroll() int {
	return max(0, len(m.segments)-m.transcriptHeight())
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	divider := DividerStyle.Render(strings.Repeat("─", m.width))
	sections := []string{
		m.renderHeader(),
		m.renderStatusBar(),
		divider,
		m.renderTranscript(),
		divider,
		m.renderMessageBar(),
		m.renderFooter(),
	}
	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	title := TitleStyle.Render("TRANSCRIBE")
	mode := " [single speaker]"
	if m.diarize {
		mode = " [diarize]"
	}
	return title + DimStyle.Render(" "+m.serverURL+mode)
}

func (m Model) renderStatusBar() string {
	var dot string
	switch m.status {
	case capture.StatusRecording:
		dot = RecordingDotStyle.Render("● REC")
	case capture.StatusConnecting:
		dot = PendingDotStyle.Render("◌ CONNECTING")
	case capture.StatusStopping:
		dot = PendingDotStyle.Render("◌ FINISHING")
	case capture.StatusError:
		dot = ErrorStyle.Render("✕ ERROR")
	default:
		dot = IdleDotStyle.Render("○ IDLE")
	}

	var extra string
	if m.status == capture.StatusRecording {
		extra = "  " + renderLevelMeter(m.level, m.speaking)
	}
	if m.status == capture.StatusError && m.reconnectDelay > 0 {
		extra = "  " + NoticeStyle.Render(fmt.Sprintf("reconnecting (attempt %d) in %s", m.reconnectAttempt, m.reconnectDelay))
	}
	return dot + extra + DimStyle.Render(fmt.Sprintf("  %d segments", len(m.segments)))
}

// renderLevelMeter draws a 0-100 level as a ten cell bar.
func renderLevelMeter(level float64, speaking bool) string {
	const barLen = 10
	filled := int(level / 100 * barLen)
	if filled > barLen {
		filled = barLen
	}

	var bar strings.Builder
	for i := 0; i < barLen; i++ {
		switch {
		case i >= filled:
			bar.WriteString(LevelGrayStyle.Render("░"))
		case i >= barLen*6/10:
			bar.WriteString(LevelYellowStyle.Render("█"))
		default:
			bar.WriteString(LevelGreenStyle.Render("█"))
		}
	}

	label := DimStyle.Render("MIC ")
	if speaking {
		label = LevelGreenStyle.Render("MIC ")
	}
	return label + bar.String()
}

func (m Model) renderTranscript() string {
	height := m.transcriptHeight()
	var lines []string

	if len(m.segments) == 0 {
		lines = append(lines, "", DimStyle.Render("  Press Space to start recording"))
	} else {
		end := len(m.segments) - m.transcriptScroll
		start := max(0, end-height)
		for _, seg := range m.segments[start:end] {
			lines = append(lines, truncateToWidth(formatSegment(seg), m.width))
		}
	}

	badge := LiveBadgeStyle.Render("LIVE")
	if !m.transcriptLive {
		badge = ScrollBadgeStyle.Render("SCROLL")
	}
	for len(lines) < height-1 {
		lines = append(lines, "")
	}
	lines = append(lines[:min(len(lines), height-1)], padLeft(badge, m.width))
	return strings.Join(lines, "\n")
}

func formatSegment(seg protocol.Segment) string {
	ts := TimestampStyle.Render("[" + formatOffset(seg.Start) + "]")
	speaker := SpeakerStyle.Render(seg.Speaker)
	if seg.Speaker != stt.DefaultSpeaker {
		speaker = AltSpeakerStyle.Render(seg.Speaker)
	}
	return "  " + ts + " " + speaker + " " + seg.Text
}

// formatOffset renders a timeline offset as mm:ss.s
func formatOffset(seconds float64) string {
	minutes := int(seconds) / 60
	return fmt.Sprintf("%02d:%04.1f", minutes, seconds-float64(minutes*60))
}

func (m Model) renderMessageBar() string {
	switch {
	case m.errorMessage != "":
		return ErrorStyle.Render("Error: ") + ErrorTextStyle.Render(m.errorMessage)
	case m.notice != "":
		return NoticeStyle.Render(m.notice)
	default:
		return ""
	}
}

func (m Model) renderFooter() string {
	action := " Record"
	switch {
	case m.status == capture.StatusRecording || m.status == capture.StatusConnecting:
		action = " Stop"
	case m.status == capture.StatusError && m.reconnectDelay > 0:
		action = " Cancel"
	}
	parts := []string{
		FooterKeyStyle.Render("Space") + FooterDescStyle.Render(action),
		FooterKeyStyle.Render("d") + FooterDescStyle.Render(" Diarize"),
		FooterKeyStyle.Render("j/k") + FooterDescStyle.Render(" Scroll"),
		FooterKeyStyle.Render("q") + FooterDescStyle.Render(" Quit"),
	}
	return strings.Join(parts, "  ")
}

func padLeft(s string, width int) string {
	visible := lipgloss.Width(s)
	if visible >= width {
		return s
	}
	return strings.Repeat(" ", width-visible) + s
}

func truncateToWidth(s string, width int) string {
	if width <= 0 || lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && lipgloss.Width(string(runes)) > width-1 {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "…"
}
