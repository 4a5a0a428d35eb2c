package graphics

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TerminalBackend implements the Backend interface for terminal-based rendering.
type TerminalBackend struct {
	initialized bool
	config      Config
}

// TerminalWindow implements the Window interface for terminal rendering,
// downsampling the NES frame buffer to one styled block character per
// 4x8 pixel cell via lipgloss foreground colors. Keyboard input is
// captured by a bubbletea program running without its own renderer —
// RenderFrame draws directly to the terminal, bubbletea only owns raw
// mode and key decoding.
type TerminalWindow struct {
	title   string
	width   int
	height  int
	running bool

	rowBuilder strings.Builder

	program *tea.Program
	keys    chan tea.KeyMsg
	quit    chan struct{}
}

// keyPollModel is a bubbletea model with no view: it exists only to put
// the terminal in raw input mode and forward key messages to keys.
type keyPollModel struct {
	keys chan tea.KeyMsg
	quit chan struct{}
}

type terminalClosed struct{}

func (m keyPollModel) Init() tea.Cmd {
	return func() tea.Msg {
		<-m.quit
		return terminalClosed{}
	}
}

func (m keyPollModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		select {
		case m.keys <- msg:
		default: // drop the key rather than block Update
		}
	case terminalClosed:
		return m, tea.Quit
	}
	return m, nil
}

func (m keyPollModel) View() string { return "" }

// NewTerminalBackend creates a new terminal graphics backend.
func NewTerminalBackend() Backend {
	return &TerminalBackend{}
}

// Initialize initializes the terminal backend.
func (b *TerminalBackend) Initialize(config Config) error {
	if b.initialized {
		return fmt.Errorf("terminal backend already initialized")
	}

	b.config = config
	b.initialized = true

	return nil
}

// CreateWindow creates a terminal "window" and starts the bubbletea
// program that owns raw input mode for the lifetime of the window.
func (b *TerminalBackend) CreateWindow(title string, width, height int) (Window, error) {
	if !b.initialized {
		return nil, fmt.Errorf("backend not initialized")
	}

	w := &TerminalWindow{
		title:   title,
		width:   width,
		height:  height,
		running: true,
		keys:    make(chan tea.KeyMsg, 32),
		quit:    make(chan struct{}),
	}

	model := keyPollModel{keys: w.keys, quit: w.quit}
	w.program = tea.NewProgram(model, tea.WithoutRenderer(), tea.WithoutSignalHandler())
	go func() {
		_, _ = w.program.Run()
	}()

	return w, nil
}

// Cleanup releases all terminal resources.
func (b *TerminalBackend) Cleanup() error {
	b.initialized = false
	return nil
}

// IsHeadless returns false (terminal has basic output).
func (b *TerminalBackend) IsHeadless() bool {
	return false
}

// GetName returns the backend name.
func (b *TerminalBackend) GetName() string {
	return "Terminal"
}

// SetTitle sets the window title (and the terminal's own title).
func (w *TerminalWindow) SetTitle(title string) {
	w.title = title
	fmt.Printf("\033]0;%s\007", title)
}

// GetSize returns window dimensions.
func (w *TerminalWindow) GetSize() (width, height int) {
	return w.width, w.height
}

// ShouldClose returns true if window should close.
func (w *TerminalWindow) ShouldClose() bool {
	return !w.running
}

// SwapBuffers does nothing for terminal.
func (w *TerminalWindow) SwapBuffers() {}

// terminalKeyMappings maps typed runes to the same Key identifiers the
// ebitengine backend uses. PollEvents reports them as InputEventTypeKey
// presses only; they are not translated into controller button events.
var terminalKeyMappings = map[rune]Key{
	'w': KeyW, 'a': KeyA, 's': KeyS, 'd': KeyD,
	'j': KeyJ, 'k': KeyK, 'x': KeyX, 'z': KeyZ,
	'1': Key1, '2': Key2, '3': Key3, '4': Key4,
	'5': Key5, '6': Key6, '7': Key7, '8': Key8,
}

// PollEvents drains key messages captured by the backing bubbletea
// program and translates them into InputEvents.
func (w *TerminalWindow) PollEvents() []InputEvent {
	var events []InputEvent

	for {
		select {
		case msg := <-w.keys:
			events = append(events, terminalKeyEvent(msg))
		default:
			return events
		}
	}
}

func terminalKeyEvent(msg tea.KeyMsg) InputEvent {
	switch msg.Type {
	case tea.KeyEsc, tea.KeyCtrlC:
		return InputEvent{Type: InputEventTypeQuit}
	case tea.KeyEnter:
		return InputEvent{Type: InputEventTypeKey, Key: KeyEnter, Pressed: true}
	case tea.KeySpace:
		return InputEvent{Type: InputEventTypeKey, Key: KeySpace, Pressed: true}
	case tea.KeyUp:
		return InputEvent{Type: InputEventTypeKey, Key: KeyUp, Pressed: true}
	case tea.KeyDown:
		return InputEvent{Type: InputEventTypeKey, Key: KeyDown, Pressed: true}
	case tea.KeyLeft:
		return InputEvent{Type: InputEventTypeKey, Key: KeyLeft, Pressed: true}
	case tea.KeyRight:
		return InputEvent{Type: InputEventTypeKey, Key: KeyRight, Pressed: true}
	case tea.KeyRunes:
		if len(msg.Runes) > 0 {
			if key, ok := terminalKeyMappings[msg.Runes[0]]; ok {
				return InputEvent{Type: InputEventTypeKey, Key: key, Pressed: true}
			}
		}
	}
	return InputEvent{Type: InputEventTypeKey, Key: KeyUnknown, Pressed: true}
}

// cellStyle renders one downsampled pixel as a styled block, caching
// nothing across calls since lipgloss styles are cheap value types.
func cellStyle(rgb uint32) lipgloss.Style {
	r := uint8(rgb >> 16)
	g := uint8(rgb >> 8)
	b := uint8(rgb)
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", r, g, b)))
}

// RenderFrame renders the frame buffer as a grid of colored block
// characters, one per 4x8 pixel cell, using lipgloss for truecolor
// foreground styling.
func (w *TerminalWindow) RenderFrame(frameBuffer [256 * 240]uint32) error {
	fmt.Print("\033[2J\033[H")

	for y := 0; y < 240; y += 8 {
		w.rowBuilder.Reset()
		for x := 0; x < 256; x += 4 {
			pixel := frameBuffer[y*256+x] & 0xFFFFFF
			if pixel == 0 {
				w.rowBuilder.WriteByte(' ')
				continue
			}
			w.rowBuilder.WriteString(cellStyle(pixel).Render("█"))
		}
		fmt.Println(w.rowBuilder.String())
	}

	return nil
}

// Cleanup releases window resources, stopping the bubbletea program
// and restoring the terminal's normal input mode.
func (w *TerminalWindow) Cleanup() error {
	w.running = false
	if w.quit != nil {
		close(w.quit)
	}
	if w.program != nil {
		w.program.Quit()
	}
	return nil
}
