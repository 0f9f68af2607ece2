// Package jobmanager provides the job table of an interactive shell.
//
// A Job represents one pipeline invocation: an ordered set of processes that
// share a process group and are placed either in the foreground or the
// background.
//
// A Table registers Jobs under small, reusable job numbers and indexes them by
// process id. A Table is owned by a single goroutine: the shell's main loop
// and the signal handlers it dispatches are its only writers.
package jobmanager
