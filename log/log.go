package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

var (
	WarningLog *log.Logger
	InfoLog    *log.Logger
	ErrorLog   *log.Logger
	DebugLog   *log.Logger
)

var debugEnabled = os.Getenv("DEBUG") == "true" || os.Getenv("DEBUG") == "1"

var logFileName = filepath.Join(os.TempDir(), "clawdcommit.log")

var globalLogFile *os.File

func init() {
	// Usable before Initialize so library code and tests never hit nil loggers.
	setLoggers(io.Discard, "")
}

// Initialize should be called once at the beginning of the program to set up logging.
// defer Close() after calling this function. It sets the go log output to the file in
// the os temp directory. server marks lines written by the MCP server process.
func Initialize(server bool) {
	prefix := ""
	if server {
		prefix = "[MCP] "
	}

	f, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		setLoggers(os.Stderr, prefix)
		fmt.Fprintf(os.Stderr, "Warning: using stderr for logging: %v\n", err)
		return
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	setLoggers(f, prefix)
	globalLogFile = f
}

func setLoggers(w io.Writer, prefix string) {
	flags := log.Ldate | log.Ltime | log.Lshortfile
	InfoLog = log.New(w, prefix+"INFO:", flags)
	WarningLog = log.New(w, prefix+"WARNING:", flags)
	ErrorLog = log.New(w, prefix+"ERROR:", flags)
	if debugEnabled {
		DebugLog = log.New(w, prefix+"DEBUG:", flags)
	} else {
		DebugLog = log.New(io.Discard, "", 0)
	}
}

// Close flushes and closes the log file opened by Initialize.
func Close() {
	if globalLogFile == nil {
		return
	}
	_ = globalLogFile.Close()
	globalLogFile = nil
	if debugEnabled {
		fmt.Fprintln(os.Stderr, "wrote logs to "+logFileName)
	}
}

// FileName returns the path of the log file.
func FileName() string {
	return logFileName
}

// IsDebugEnabled returns true if debug logging is enabled.
func IsDebugEnabled() bool {
	return debugEnabled
}
