// Package tui provides the terminal view used by the watch command.
//
// The view is read-only once a run starts. It shows each agent of the
// pipeline with a spinner while it works, an excerpt of every stage
// output, and the terminal result. Users quit with 'q' or Ctrl+C, which
// also closes the stream and cancels the run on the server.
//
// Usage:
//
//	app := tui.NewWatchApp(ctx, c.MultiAgent, prompt)
//	if _, err := tea.NewProgram(app).Run(); err != nil {
//	    return err
//	}
//	if app.Err() != nil { ... }
//
// With an empty prompt the view starts with an input field and runs the
// first prompt the user submits.
package tui
