// Package logger provides the application-wide structured logger.
// Components that need their own named logger should call Named; everything
// else can use the package-level helpers.
package logger

import (
	"os"
	"sync"

	"github.com/hashicorp/go-hclog"
)

var (
	mu   sync.RWMutex
	root = hclog.New(&hclog.LoggerOptions{
		Name:   "chunkstream",
		Level:  hclog.Info,
		Output: os.Stdout,
	})
)

// Init replaces the root logger using the configured level and format.
// Safe to call before any module starts logging; later calls only affect
// loggers obtained afterwards.
func Init(level, format string) {
	mu.Lock()
	defer mu.Unlock()

	root = hclog.New(&hclog.LoggerOptions{
		Name:       "chunkstream",
		Level:      hclog.LevelFromString(level),
		Output:     os.Stdout,
		JSONFormat: format == "json",
	})
}

// Root returns the root logger.
func Root() hclog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

// Named returns a child logger scoped to the given subsystem name.
func Named(name string) hclog.Logger {
	return Root().Named(name)
}

// Package-level helpers for code without a component logger.

func Debug(msg string, args ...interface{}) { Root().Debug(msg, args...) }
func Info(msg string, args ...interface{})  { Root().Info(msg, args...) }
func Warn(msg string, args ...interface{})  { Root().Warn(msg, args...) }
func Error(msg string, args ...interface{}) { Root().Error(msg, args...) }
