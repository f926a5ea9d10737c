package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wfunc/tabletop-client/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// 模块名
const (
	ModuleWebSocket = "websocket"
	ModuleSession   = "session"
	ModuleStorage   = "storage"
	ModuleAuth      = "auth"
	ModuleDialogue  = "dialogue"
	ModuleDatabase  = "database"
)

var (
	logger *zap.Logger
	mu     sync.RWMutex

	// 全局级别，支持热更新
	atomicLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	// 模块日志器
	moduleLoggers = map[string]*zap.Logger{}
)

// Init 初始化日志系统，可重复调用以应用新配置
func Init(cfg *config.LogConfig) error {
	atomicLevel.SetLevel(parseLevel(cfg.Level))

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	var (
		cores []zapcore.Core
		sinks []zapcore.WriteSyncer
	)

	// 控制台输出
	if cfg.Output == "" || cfg.Output == "stdout" || cfg.Output == "both" {
		sinks = append(sinks, zapcore.AddSync(os.Stdout))
	}

	// 文件输出
	if cfg.Output == "file" || cfg.Output == "both" {
		if err := os.MkdirAll(cfg.File.Path, 0755); err != nil {
			return fmt.Errorf("创建日志目录失败: %w", err)
		}

		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename:   filepath.Join(cfg.File.Path, cfg.File.Filename),
			MaxSize:    cfg.File.MaxSize,
			MaxAge:     cfg.File.MaxAge,
			MaxBackups: cfg.File.MaxBackups,
			Compress:   cfg.File.Compress,
		})
		sinks = append(sinks, fileWriter)

		// 错误日志单独落盘
		errorWriter := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.File.Path, "error.log"),
			MaxSize:    cfg.File.MaxSize,
			MaxAge:     cfg.File.MaxAge,
			MaxBackups: cfg.File.MaxBackups,
			Compress:   cfg.File.Compress,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(errorWriter), zapcore.ErrorLevel))
	}

	for _, sink := range sinks {
		cores = append(cores, zapcore.NewCore(encoder, sink, atomicLevel))
	}

	root := zap.New(
		zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)

	// 模块日志器共享输出，级别单独配置
	modules := make(map[string]*zap.Logger, len(cfg.Modules))
	for module, levelStr := range cfg.Modules {
		moduleLevel := parseLevel(levelStr)
		moduleCores := make([]zapcore.Core, 0, len(sinks))
		for _, sink := range sinks {
			moduleCores = append(moduleCores, zapcore.NewCore(encoder, sink, moduleLevel))
		}
		modules[module] = zap.New(
			zapcore.NewTee(moduleCores...),
			zap.AddCaller(),
		).Named(module)
	}

	mu.Lock()
	old := logger
	logger = root
	moduleLoggers = modules
	mu.Unlock()

	if old != nil {
		_ = old.Sync()
	}
	return nil
}

// parseLevel 解析日志级别
func parseLevel(levelStr string) zapcore.Level {
	switch levelStr {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// GetLogger 获取日志器
func GetLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil {
		// 未初始化时不输出，避免测试噪音
		return zap.NewNop()
	}
	return logger
}

// GetModuleLogger 获取模块日志器
func GetModuleLogger(module string) *zap.Logger {
	mu.RLock()
	moduleLogger, ok := moduleLoggers[module]
	mu.RUnlock()
	if ok {
		return moduleLogger
	}
	return GetLogger().Named(module)
}

// Sync 同步日志缓冲区
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if logger != nil {
		return logger.Sync()
	}
	return nil
}

// 便捷方法

// Debug 输出调试日志
func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, fields...)
}

// Info 输出信息日志
func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(msg, fields...)
}

// Warn 输出警告日志
func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, fields...)
}

// Error 输出错误日志
func Error(msg string, fields ...zap.Field) {
	GetLogger().Error(msg, fields...)
}

// Fatal 输出致命错误日志并退出程序
func Fatal(msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, fields...)
}

// LogPanic 记录panic日志
func LogPanic(recovered interface{}, stack []byte) {
	GetLogger().Error("panic recovered",
		zap.Any("panic", recovered),
		zap.ByteString("stack", stack),
	)
}

// LogWebSocketMessage 记录WebSocket消息
func LogWebSocketMessage(direction string, messageType string, payload interface{}) {
	GetModuleLogger(ModuleWebSocket).Debug("ws_message",
		zap.String("direction", direction), // "send" or "receive"
		zap.String("type", messageType),
		zap.Any("payload", payload),
	)
}

// LogSessionEvent 记录会话事件
func LogSessionEvent(event string, gameID string, fields ...zap.Field) {
	fields = append([]zap.Field{
		zap.String("event", event),
		zap.String("game_id", gameID),
	}, fields...)
	GetModuleLogger(ModuleSession).Info("session_event", fields...)
}

// LogDatabaseOperation 记录数据库操作
func LogDatabaseOperation(operation string, table string, duration time.Duration, err error) {
	l := GetModuleLogger(ModuleDatabase)
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("table", table),
		zap.Duration("duration", duration),
	}

	if err != nil {
		fields = append(fields, zap.Error(err))
		l.Error("database_operation_failed", fields...)
	} else {
		l.Debug("database_operation", fields...)
	}
}

// SetLevel 动态设置日志级别
func SetLevel(levelStr string) {
	atomicLevel.SetLevel(parseLevel(levelStr))
}

// Level 返回当前全局级别
func Level() zapcore.Level {
	return atomicLevel.Level()
}
