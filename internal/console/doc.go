// Package console is the interactive terminal view of one server session.
//
// The model subscribes to the session's event feed, so it first renders
// the retained log lines and then every later line, state change, metrics
// sample and notification as it happens. Session operations (connect,
// start, stop, disconnect, stdin input) and AI analysis run as tea.Cmds so
// the view stays responsive while they block.
//
// # Tabs
//
//	Logs      - every retained line, following the tail
//	Errors    - the error feed; select a line to analyze or remove it
//	Analysis  - the latest analysis and follow-up answers
//
// # Keyboard Shortcuts
//
//	c / s / x / d - Connect, start, stop, disconnect
//	i             - Send a line to the process (or ask a follow-up on the Analysis tab)
//	tab           - Next tab
//	a / r         - Analyze the selected error line (r bypasses the cache)
//	delete        - Remove the selected error line
//	f             - Toggle following the log tail
//	?             - Toggle help
//	q, Ctrl+C     - Quit (the session keeps running)
//
// If the console falls behind the feed it is dropped by the session; the
// model then resubscribes and redraws from a fresh snapshot.
package console
