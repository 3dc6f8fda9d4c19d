package logger

import (
	"path/filepath"
	"time"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config 日志配置
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string // stdout, stderr, or a directory for rotated file logs

	// MaxAgeDays and MaxBackups bound rotated log files when OutputPath
	// names a directory. Zero means the package defaults (7 days, 10
	// files) apply.
	MaxAgeDays int
	MaxBackups int
}

const (
	defaultMaxAgeDays = 7
	defaultMaxBackups = 10
)

// NewLogger 创建新的日志实例
//
// When cfg.OutputPath is neither "stdout" nor "stderr", it's treated as
// a logs directory: entries are written to a daily-named
// fae-YYYY-MM-DD.log file rotated by age and count via lumberjack,
// matching a production deployment's need to bound on-disk log growth
// on a long-running device.
func NewLogger(cfg Config) (*zap.Logger, error) {
	// 解析日志级别
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	if isRotatedFileTarget(cfg.OutputPath) {
		writer := newRotatingWriter(cfg)
		core := zapcore.NewCore(encoder, zapcore.AddSync(writer), level)
		return zap.New(core, zap.ErrorOutput(zapcore.AddSync(writer))), nil
	}

	// 构建配置
	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         cfg.Format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{cfg.OutputPath},
		ErrorOutputPaths: []string{"stderr"},
	}

	return config.Build()
}

func isRotatedFileTarget(outputPath string) bool {
	return outputPath != "" && outputPath != "stdout" && outputPath != "stderr"
}

// newRotatingWriter names the active log file fae-YYYY-MM-DD.log under
// the configured directory; lumberjack handles the actual age/count
// rotation and renaming of rolled-over files.
func newRotatingWriter(cfg Config) *lumberjack.Logger {
	maxAge := cfg.MaxAgeDays
	if maxAge <= 0 {
		maxAge = defaultMaxAgeDays
	}
	maxBackups := cfg.MaxBackups
	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}

	return &lumberjack.Logger{
		Filename:   filepath.Join(cfg.OutputPath, "fae-"+time.Now().UTC().Format("2006-01-02")+".log"),
		MaxAge:     maxAge,
		MaxBackups: maxBackups,
		Compress:   false,
	}
}
