// Package proc contains helpers for supervising child processes started by the
// git backend and the generate command.
package proc
