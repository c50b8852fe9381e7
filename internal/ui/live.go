package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/peerdrop/peerdrop/internal/files"
)

// TransferUI renders live per-file progress for a fetch. It runs a Bubble
// Tea program inline (no alt screen) so earlier output stays visible.
type TransferUI struct {
	program    *tea.Program
	model      *transferModel
	updateChan chan progressUpdate
	wg         sync.WaitGroup
}

type progressUpdate struct {
	fileID    int
	current   int64
	completed bool
	failed    bool
	errMsg    string
}

type tickMsg time.Time

type fileProgress struct {
	name      string
	size      int64
	current   int64
	startTime time.Time
	complete  bool
	failed    bool
	errMsg    string
}

type transferModel struct {
	state      string
	files      []*fileProgress
	progBars   []progress.Model
	spinner    spinner.Model
	startTime  time.Time
	updateChan chan progressUpdate
	mu         sync.RWMutex
	quitting   bool
}

// NewTransferUI creates a live progress UI for the given files.
func NewTransferUI(fileNames []string, fileSizes []int64) *TransferUI {
	updateChan := make(chan progressUpdate, 100)

	fps := make([]*fileProgress, len(fileNames))
	progBars := make([]progress.Model, len(fileNames))
	for i := range fileNames {
		fps[i] = &fileProgress{
			name: fileNames[i],
			size: fileSizes[i],
		}
		progBars[i] = progress.New(
			progress.WithGradient(ProgressStart, ProgressEnd),
			progress.WithWidth(30),
			progress.WithoutPercentage(),
		)
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	model := &transferModel{
		state:      "Negotiating...",
		files:      fps,
		progBars:   progBars,
		spinner:    s,
		updateChan: updateChan,
		startTime:  time.Now(),
	}

	return &TransferUI{
		model:      model,
		updateChan: updateChan,
	}
}

// Start runs the UI in a goroutine.
func (ui *TransferUI) Start() {
	ui.wg.Add(1)
	go func() {
		defer ui.wg.Done()
		ui.program = tea.NewProgram(ui.model)
		if _, err := ui.program.Run(); err != nil {
			fmt.Printf("UI error: %v\n", err)
		}
	}()
}

// SetState sets the status line above the bars.
func (ui *TransferUI) SetState(state string) {
	ui.model.mu.Lock()
	ui.model.state = state
	ui.model.mu.Unlock()
}

// UpdateProgress records the bytes received so far for one file.
func (ui *TransferUI) UpdateProgress(fileID int, current int64) {
	select {
	case ui.updateChan <- progressUpdate{fileID: fileID, current: current}:
	default:
	}
}

// MarkComplete flags one file as done.
func (ui *TransferUI) MarkComplete(fileID int) {
	select {
	case ui.updateChan <- progressUpdate{fileID: fileID, completed: true}:
	default:
	}
}

// MarkFailed flags one file as failed.
func (ui *TransferUI) MarkFailed(fileID int, errMsg string) {
	select {
	case ui.updateChan <- progressUpdate{fileID: fileID, failed: true, errMsg: errMsg}:
	default:
	}
}

// Stop quits the program and waits for it to exit.
func (ui *TransferUI) Stop() {
	if ui.program != nil {
		ui.program.Quit()
	}
	ui.wg.Wait()
}

func (m *transferModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.listenForUpdates(),
		tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
			return tickMsg(t)
		}),
	)
}

func (m *transferModel) listenForUpdates() tea.Cmd {
	return func() tea.Msg {
		return <-m.updateChan
	}
}

func (m *transferModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		for i := range m.progBars {
			m.progBars[i].Width = min(30, msg.Width-50)
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tickMsg:
		if !m.quitting {
			cmds = append(cmds, tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
				return tickMsg(t)
			}))
		}

	case progressUpdate:
		m.apply(msg)
		cmds = append(cmds, m.listenForUpdates())

	case progress.FrameMsg:
		for i := range m.progBars {
			model, cmd := m.progBars[i].Update(msg)
			m.progBars[i] = model.(progress.Model)
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

func (m *transferModel) apply(msg progressUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.fileID < 0 || msg.fileID >= len(m.files) {
		return
	}
	f := m.files[msg.fileID]
	switch {
	case msg.completed:
		f.complete = true
		f.current = f.size
	case msg.failed:
		f.failed = true
		f.errMsg = msg.errMsg
	default:
		f.current = msg.current
		if f.startTime.IsZero() {
			f.startTime = time.Now()
		}
	}
}

func (m *transferModel) View() string {
	if m.quitting {
		return ""
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var b strings.Builder

	b.WriteString(fmt.Sprintf("\n%s %s\n\n", m.spinner.View(), m.state))

	var totalSize, totalReceived int64
	for _, f := range m.files {
		totalSize += f.size
		totalReceived += f.current
	}

	elapsed := time.Since(m.startTime).Seconds()
	var speed float64
	if elapsed > 0 {
		speed = float64(totalReceived) / elapsed
	}
	b.WriteString(fmt.Sprintf("Overall: %s/%s %s\n\n",
		files.FormatSize(totalReceived),
		files.FormatSize(totalSize),
		MutedStyle.Render(files.FormatSpeed(speed)),
	))

	for i, f := range m.files {
		var icon string
		var nameStyle lipgloss.Style

		switch {
		case f.failed:
			icon = IconError
			nameStyle = ErrorStyle
		case f.complete:
			icon = IconSuccess
			nameStyle = SuccessStyle
		case f.current > 0:
			icon = m.spinner.View()
			nameStyle = lipgloss.NewStyle()
		default:
			icon = "○"
			nameStyle = MutedStyle
		}

		name := f.name
		if len(name) > 22 {
			name = name[:19] + "..."
		}
		b.WriteString(fmt.Sprintf("  %s %s ", icon, nameStyle.Width(24).Render(name)))

		if f.size > 0 {
			percent := float64(f.current) / float64(f.size)
			if percent > 1 {
				percent = 1
			}
			b.WriteString(m.progBars[i].ViewAs(percent))
		}

		if f.failed {
			b.WriteString(" " + ErrorStyle.Render(f.errMsg))
		} else if !f.complete && f.current > 0 && !f.startTime.IsZero() {
			fileElapsed := time.Since(f.startTime).Seconds()
			if fileElapsed > 0 {
				fileSpeed := float64(f.current) / fileElapsed
				b.WriteString(MutedStyle.Render(" " + files.FormatSpeed(fileSpeed)))
			}
		}

		b.WriteString("\n")
	}

	return b.String()
}
