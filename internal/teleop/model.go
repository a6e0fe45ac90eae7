package teleop

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mbotlink/mbotlink/internal/protocol"
	"github.com/mbotlink/mbotlink/internal/ui"
)

// PoseMsg reports the robot's latest odometry to a running Model.
type PoseMsg protocol.Pose2D

// keyMap defines the teleop key bindings
type keyMap struct {
	Forward key.Binding
	Back    key.Binding
	Left    key.Binding
	Right   key.Binding
	Stop    key.Binding
	Quit    key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Forward, k.Back, k.Left, k.Right, k.Stop, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Forward, k.Back, k.Left, k.Right},
		{k.Stop, k.Quit},
	}
}

func defaultKeyMap() keyMap {
	return keyMap{
		Forward: key.NewBinding(
			key.WithKeys("up", "w"),
			key.WithHelp("↑/w", "faster"),
		),
		Back: key.NewBinding(
			key.WithKeys("down", "s"),
			key.WithHelp("↓/s", "slower"),
		),
		Left: key.NewBinding(
			key.WithKeys("left", "a"),
			key.WithHelp("←/a", "turn left"),
		),
		Right: key.NewBinding(
			key.WithKeys("right", "d"),
			key.WithHelp("→/d", "turn right"),
		),
		Stop: key.NewBinding(
			key.WithKeys(" "),
			key.WithHelp("space", "stop"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "esc", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// Model is the keyboard teleop screen.
type Model struct {
	robot string
	stick *Stick
	keys  keyMap
	help  help.Model

	pose    protocol.Pose2D
	hasPose bool
	quit    bool
}

// NewModel returns a Model steering stick for the named robot.
func NewModel(robot string, stick *Stick) Model {
	return Model{
		robot: robot,
		stick: stick,
		keys:  defaultKeyMap(),
		help:  help.New(),
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model. Quitting centres the stick first so the
// pilot's last reading is a stop.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Forward):
			m.stick.Nudge(1, 0)
		case key.Matches(msg, m.keys.Back):
			m.stick.Nudge(-1, 0)
		case key.Matches(msg, m.keys.Left):
			m.stick.Nudge(0, 1)
		case key.Matches(msg, m.keys.Right):
			m.stick.Nudge(0, -1)
		case key.Matches(msg, m.keys.Stop):
			m.stick.Centre()
		case key.Matches(msg, m.keys.Quit):
			m.stick.Centre()
			m.quit = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
	case PoseMsg:
		m.pose = protocol.Pose2D(msg)
		m.hasPose = true
	}
	return m, nil
}

// View implements tea.Model
func (m Model) View() string {
	if m.quit {
		return ""
	}
	vx, wz, _ := m.stick.Velocity()

	var b strings.Builder
	b.WriteString(ui.RobotStyle.Render("["+m.robot+"]") + " " + ui.HeaderTitleStyle.Render("TELEOP") + "\n\n")
	b.WriteString("  " + ui.ResultKeyStyle.Render("vx") + " " + ui.ValueStyle.Render(gauge(vx)) + "\n")
	b.WriteString("  " + ui.ResultKeyStyle.Render("wz") + " " + ui.ValueStyle.Render(gauge(wz)) + "\n\n")
	if m.hasPose {
		b.WriteString("  " + ui.MutedStyle.Render(fmt.Sprintf("pose x=%+.3f y=%+.3f theta=%+.3f",
			m.pose.X, m.pose.Y, m.pose.Theta)) + "\n\n")
	} else {
		b.WriteString("  " + ui.MutedStyle.Render("waiting for odometry") + "\n\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

// gauge draws v in [-1, 1] as a centred bar with its value.
func gauge(v float32) string {
	const half = 10
	n := int(v*half + sign(v)*0.5)
	bar := []rune(strings.Repeat("·", 2*half+1))
	bar[half] = '|'
	switch {
	case n > 0:
		for i := 1; i <= n; i++ {
			bar[half+i] = '█'
		}
	case n < 0:
		for i := 1; i <= -n; i++ {
			bar[half-i] = '█'
		}
	}
	return fmt.Sprintf("%s %+.2f", string(bar), v)
}

func sign(v float32) float32 {
	if v < 0 {
		return -1
	}
	return 1
}
