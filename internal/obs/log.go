package obs

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	loggerMu sync.RWMutex
	logger   = zap.NewNop().Sugar()
)

// Init builds the shared logger. JSON output is meant for production; the
// console encoder is for local runs.
func Init(jsonOutput bool, level string) error {
	lvl := zap.NewAtomicLevelAt(zap.InfoLevel)
	if strings.TrimSpace(level) != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return err
		}
	}

	var (
		base *zap.Logger
		err  error
	)
	if jsonOutput {
		cfg := zap.NewProductionConfig()
		cfg.Level = lvl
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stderr"}
		base, err = cfg.Build()
		if err != nil {
			return err
		}
	} else {
		enc := zap.NewDevelopmentEncoderConfig()
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		base = zap.New(zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(os.Stdout), lvl))
	}

	SetLogger(base.Sugar())
	return nil
}

// Logger returns the shared structured logger used across the service.
func Logger() *zap.SugaredLogger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// SetLogger replaces the shared logger. Tests install an observer core here.
func SetLogger(l *zap.SugaredLogger) {
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
}

// Named returns a child of the shared logger scoped to a component.
func Named(component string) *zap.SugaredLogger {
	return Logger().Named(component)
}

// LogRequest emits one structured line with the common HTTP fields.
func LogRequest(fields map[string]any) {
	kv := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	Logger().Infow("request_complete", kv...)
}
