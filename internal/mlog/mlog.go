package mlog

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Log wraps logrus.Logger and holds information of logging file.
type Log struct {
	*logrus.Logger

	file     *os.File
	location string
}

var (
	global *Log
	mu     sync.Mutex
)

// New creates Log object writing to stderr or to the file at location.
func New(location string) (*Log, error) {
	l := &Log{
		Logger:   logrus.New(),
		location: location,
	}

	if location == "" || location == "stderr" {
		l.Out = os.Stderr
		return l, nil
	}

	f, err := os.OpenFile(location, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	l.Out = f
	l.file = f

	return l, nil
}

// Close releases the log file, if any.
func (l *Log) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Init replaces the process logger. level is a logrus level name.
func Init(location, level string) error {
	l, err := New(location)
	if err != nil {
		return err
	}

	if level != "" {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			l.Close()
			return err
		}
		l.SetLevel(lvl)
	}

	mu.Lock()
	defer mu.Unlock()
	if global != nil {
		global.Close()
	}
	global = l
	return nil
}

// GetLogger returns the process logger, creating a stderr one on first use.
func GetLogger() *Log {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		global, _ = New("stderr")
	}
	return global
}

// Discard returns an entry that drops everything; handy in tests.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.Out = io.Discard
	return logrus.NewEntry(l)
}

// GetPackageLogger returns an entry tagged with the package name.
func GetPackageLogger(pkg string) *logrus.Entry {
	return GetLogger().WithField("package", pkg)
}

// GetFunctionLogger tags l with a function name.
func GetFunctionLogger(l *logrus.Entry, fn string) *logrus.Entry {
	return l.WithField("function", fn)
}

// GetMethodLogger tags l with a method name.
func GetMethodLogger(l *logrus.Entry, method string) *logrus.Entry {
	return l.WithField("method", method)
}
