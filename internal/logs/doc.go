// Package logs reads the daemon log file for `contentflow logs`.
//
// Reads are offset based so a follow loop can resume where the previous read
// stopped, and an optional match string narrows output to one run.
package logs
