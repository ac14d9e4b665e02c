package utils

import (
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// Level 日志级别
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel 解析配置中的日志级别，未知值回退到 info
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

var minLevel atomic.Int32

func init() {
	minLevel.Store(int32(LevelInfo))
}

// SetLevel 设置全局最低日志级别
func SetLevel(l Level) {
	minLevel.Store(int32(l))
}

// Logger 简单日志封装，带组件前缀
type Logger struct {
	prefix string
	out    *log.Logger
}

// NewLogger 创建带组件名的日志器，例如 NewLogger("listener")
func NewLogger(component string) *Logger {
	l := &Logger{out: log.New(os.Stderr, "", log.LstdFlags)}
	if component != "" {
		l.prefix = "[" + component + "] "
	}
	return l
}

// With 返回追加了子组件前缀的日志器
func (l *Logger) With(sub string) *Logger {
	if l == nil {
		l = DefaultLogger
	}
	return &Logger{prefix: l.prefix + "[" + sub + "] ", out: l.out}
}

func (l *Logger) printf(level Level, tag, msg string, args ...interface{}) {
	if l == nil {
		l = DefaultLogger
	}
	if level < Level(minLevel.Load()) {
		return
	}
	l.out.Printf(tag+l.prefix+msg, args...)
}

// Debug 调试日志
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.printf(LevelDebug, "[DEBUG] ", msg, args...)
}

// Info 信息日志
func (l *Logger) Info(msg string, args ...interface{}) {
	l.printf(LevelInfo, "[INFO] ", msg, args...)
}

// Warn 警告日志
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.printf(LevelWarn, "[WARN] ", msg, args...)
}

// Error 错误日志
func (l *Logger) Error(msg string, args ...interface{}) {
	l.printf(LevelError, "[ERROR] ", msg, args...)
}

var DefaultLogger = &Logger{out: log.New(os.Stderr, "", log.LstdFlags)}
