package console

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the console key bindings.
type KeyMap struct {
	Up       key.Binding
	Down     key.Binding
	PrevPage key.Binding
	NextPage key.Binding
	Open     key.Binding
	Back     key.Binding
	Delete   key.Binding
	Download key.Binding
	Train    key.Binding
	Abort    key.Binding
	Refresh  key.Binding
	Toggle   key.Binding
	Less     key.Binding
	More     key.Binding
	Confirm  key.Binding
	Cancel   key.Binding
	Quit     key.Binding
}

// DefaultKeyMap returns the default bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		PrevPage: key.NewBinding(
			key.WithKeys("left", "h", "pgup"),
			key.WithHelp("←/h", "prev page"),
		),
		NextPage: key.NewBinding(
			key.WithKeys("right", "l", "pgdown"),
			key.WithHelp("→/l", "next page"),
		),
		Open: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "curves"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc", "backspace"),
			key.WithHelp("esc", "back"),
		),
		Delete: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "delete"),
		),
		Download: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "download"),
		),
		Train: key.NewBinding(
			key.WithKeys("t"),
			key.WithHelp("t", "retrain"),
		),
		Abort: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "abort"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Toggle: key.NewBinding(
			key.WithKeys("tab", "v"),
			key.WithHelp("tab", "accuracy/loss"),
		),
		Less: key.NewBinding(
			key.WithKeys("left", "h", "-"),
			key.WithHelp("←", "patience -1"),
		),
		More: key.NewBinding(
			key.WithKeys("right", "l", "+"),
			key.WithHelp("→", "patience +1"),
		),
		Confirm: key.NewBinding(
			key.WithKeys("y", "enter"),
			key.WithHelp("y", "confirm"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("n", "esc"),
			key.WithHelp("n", "cancel"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

func (k KeyMap) listHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.NextPage, k.Open, k.Delete, k.Download, k.Train, k.Abort, k.Refresh, k.Quit}
}

func (k KeyMap) curveHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Less, k.More, k.Back, k.Quit}
}

func (k KeyMap) confirmHelp() []key.Binding {
	return []key.Binding{k.Confirm, k.Cancel}
}
