package chatview

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
)

// Run shows the chat window until the user quits, ctx ends or the session is
// cleared. A cleared session is returned as the error.
func Run(ctx context.Context, c Chat, opts Options) error {
	m := newModel(ctx, c, opts)
	defer m.close()

	program := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		return err
	}
	return m.endedErr
}
