package dmengine

import (
	"io"
	"log"
	"os"
)

// logger is the engine's package-level output, generalized from
// pinpox-nitrous's main.go debug-logging switch (tea.LogToFile vs.
// log.SetOutput(io.Discard)). The teacher's per-room flat-file chat log
// (appendLogEntry/loadLogHistory, keyed by ChatMessage.GroupKey/ChannelID)
// logged rendered TUI scrollback; that concern is superseded here by the
// persisted conversation state in internal/store, so it isn't carried
// forward. This file keeps the teacher's "discard by default, opt into a
// file" shape for the engine's own operational logging instead.
var logger = log.New(io.Discard, "dmengine: ", log.LstdFlags)

// SetLogOutput redirects the engine's logger, e.g. to a debug log file
// opened by a command-line front end's -debug flag.
func SetLogOutput(w io.Writer) {
	logger.SetOutput(w)
}

// EnableFileLogging opens path for append and routes the engine's logger
// to it, mirroring the teacher's tea.LogToFile debug mode. The returned
// file must be closed by the caller on shutdown.
func EnableFileLogging(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	logger.SetOutput(f)
	return f, nil
}
