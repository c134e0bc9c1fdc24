package cras

import (
	"os"

	"github.com/charmbracelet/log"
)

// Logger is the package-wide structured logger. It defaults to warn level so
// a program embedding this client does not get spammed by the reader
// goroutine's routine traffic.
var Logger = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	Prefix:          "crasgo",
	Level:           log.WarnLevel,
})

// SetLogLevel adjusts the verbosity of the package logger at runtime.
func SetLogLevel(level log.Level) {
	Logger.SetLevel(level)
}
