package log

import (
	"io"
	stdlog "log"
)

var (
	debugMode   = false
	verboseMode = true
)

func EnableDebug(v bool) {
	debugMode = v
}

// SetVerbose toggles warnings. Warnings are on by default.
func SetVerbose(v bool) {
	verboseMode = v
}

func Verbose() bool {
	return verboseMode
}

func SetOutput(w io.Writer) {
	stdlog.SetOutput(w)
}

func SetFlags(flag int) {
	stdlog.SetFlags(flag)
}

func Println(v ...interface{}) {
	stdlog.Println(v...)
}

func Printf(format string, v ...interface{}) {
	stdlog.Printf(format, v...)
}

func Fatalf(format string, v ...interface{}) {
	stdlog.Fatalf(format, v...)
}

func Warnf(format string, v ...interface{}) {
	if verboseMode {
		Printf("warning: "+format, v...)
	}
}

func Debugf(format string, v ...interface{}) {
	if debugMode {
		Printf(format, v...)
	}
}
