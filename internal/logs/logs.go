package logs

import (
	"log/slog"
	"os"
	"strings"
	"time"

	azlog "github.com/Azure/azure-sdk-for-go/sdk/azcore/log"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Setup installs the process-wide logger. format is "console" or "json";
// level is debug, info, warn or error.
func Setup(level, format string) {
	lvl := ParseLevel(level)

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	default:
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      lvl,
			TimeFormat: time.Kitchen,
			NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		})
	}
	slog.SetDefault(slog.New(handler))

	if lvl <= slog.LevelDebug {
		CaptureSDK()
	}
}

// ParseLevel maps a level name to its slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// CaptureSDK routes Azure SDK client logs (requests, retries, auth) into
// slog at debug level.
func CaptureSDK() {
	azlog.SetListener(func(event azlog.Event, msg string) {
		slog.Debug(msg, "sdkEvent", string(event))
	})
}
