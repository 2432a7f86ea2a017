// Package tui provides interactive terminal UI components using BubbleTea.
//
// The browse view doubles as the delivery context of the use case: results
// are handed to the program's event loop through ProgramExecutor, so models
// only ever observe them from Update.
package tui
