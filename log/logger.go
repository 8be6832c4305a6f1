package log

import (
	"github.com/mattn/go-colorable"
	"github.com/sirupsen/logrus"
	"github.com/snowzach/rotatefilehook"
)

const (
	fileName        = "flock.log"
	timestampFormat = "2006-01-02 15:04:05"
)

// Logger is the channel every component reports through. A single goroutine
// drains it, so log ordering matches send ordering.
var Logger = make(chan Log, 64)

func init() {
	rotateFileHook, err := rotatefilehook.NewRotateFileHook(rotatefilehook.RotateFileConfig{
		Filename:   fileName,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Formatter: &logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
		},
	})
	if err != nil {
		logrus.Fatal(err)
	}

	logger := &logrus.Logger{
		Out: colorable.NewColorableStdout(),
		Formatter: &logrus.TextFormatter{
			ForceColors: true, FullTimestamp: true, TimestampFormat: timestampFormat,
		},
		Hooks: map[logrus.Level][]logrus.Hook{
			logrus.InfoLevel: {rotateFileHook}, logrus.WarnLevel: {rotateFileHook}, logrus.ErrorLevel: {rotateFileHook}, logrus.FatalLevel: {rotateFileHook},
		},
		Level: logrus.TraceLevel,
	}

	go func() {
		for l := range Logger {
			logger.WithFields(l.Fields).Log(l.Level, l.Msg)
		}
	}()
}
