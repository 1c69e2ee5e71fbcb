package openh264

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var pkgLogger atomic.Pointer[zerolog.Logger]

func init() {
	nop := zerolog.Nop()
	pkgLogger.Store(&nop)
}

// Logger returns the package logger. It discards everything until SetLogger
// is called.
func Logger() zerolog.Logger {
	return *pkgLogger.Load()
}

// SetLogger replaces the package logger used by encoders and decoders that
// were not given their own.
func SetLogger(l zerolog.Logger) {
	pkgLogger.Store(&l)
}

// LogConfig selects the logger built by NewLogger.
//   - output: empty or stderr, stdout, discard
//   - format: empty (console), text (console without color), json
//   - level:  disabled, trace, debug, info, warn, error...
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// NewLogger builds a zerolog logger from cfg.
func NewLogger(cfg LogConfig) (zerolog.Logger, error) {
	var writer io.Writer

	switch cfg.Output {
	case "stdout":
		writer = os.Stdout
	case "discard":
		writer = io.Discard
	default:
		writer = os.Stderr
	}

	switch cfg.Format {
	case "json":
	case "text":
		writer = zerolog.ConsoleWriter{Out: writer, NoColor: true, TimeFormat: "15:04:05.000"}
	default:
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: "15:04:05.000"}
	}

	lvl := zerolog.InfoLevel
	if cfg.Level != "" {
		var err error
		if lvl, err = zerolog.ParseLevel(cfg.Level); err != nil {
			return zerolog.Nop(), err
		}
	}

	return zerolog.New(writer).Level(lvl).With().Timestamp().Str("module", "h264").Logger(), nil
}
