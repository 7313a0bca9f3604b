package tui

// Keybinding constants
const (
	KeyEsc   = "esc"
	KeyCtrlC = "ctrl+c"
	KeyQuit  = "q"
)

// HelpView returns a one-line help bar for the progress dialog.
func HelpView(cancelEnabled, stopping bool) string {
	switch {
	case stopping:
		return StyleHelp.Render("stopping tasks...")
	case cancelEnabled:
		return StyleHelp.Render("esc/ctrl+c: cancel")
	default:
		return StyleHelp.Render("cancel disabled")
	}
}
