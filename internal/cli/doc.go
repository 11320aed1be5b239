// Package cli implements the logpanel command-line interface.
//
// Every command loads settings, opens a panel over the registered servers
// and closes it on the way out, which stops and disconnects any session
// the command touched. Commands are thin: the work lives in the panel,
// session and api packages.
//
// # Command Structure
//
//	logpanel server [list|add|edit|remove]  - Manage server definitions
//	logpanel run [server]                   - Start and follow a process
//	logpanel exec <server> <command>        - One-off command
//	logpanel console [server]               - Interactive console
//	logpanel serve                          - HTTP and WebSocket API
//	logpanel analyze <server> [text]        - AI explanation of a log line
//	logpanel status [server]                - Servers and session state
//
// # Flag Handling
//
// Global flags (--config, --debug, --no-color, --json) are defined on the
// root command. With --json every command prints one JSON envelope, or
// NDJSON log lines for run, and errors carry a stable code.
//
// # Exit Status
//
// run and exec exit with the process's status. Ctrl+C during run stops
// the process and exits 130.
package cli
