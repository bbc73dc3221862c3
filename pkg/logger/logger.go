package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var log *logrus.Logger

func Init(level, format string) error {
	return InitWithOutput(level, format, os.Stdout)
}

// InitWithOutput is Init with an explicit sink; tests pass a buffer.
func InitWithOutput(level, format string, out io.Writer) error {
	l := logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	switch format {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}

	l.SetOutput(out)
	log = l

	return nil
}

// WithFields returns an entry carrying structured fields. Before Init it
// falls back to logrus' standard logger so callers never need a nil check.
func WithFields(fields map[string]interface{}) *logrus.Entry {
	if log == nil {
		return logrus.WithFields(fields)
	}
	return log.WithFields(fields)
}

func Debug(args ...interface{}) {
	if log != nil {
		log.Debug(args...)
	}
}

func Debugf(format string, args ...interface{}) {
	if log != nil {
		log.Debugf(format, args...)
	}
}

func Info(args ...interface{}) {
	if log != nil {
		log.Info(args...)
	}
}

func Infof(format string, args ...interface{}) {
	if log != nil {
		log.Infof(format, args...)
	}
}

func Warn(args ...interface{}) {
	if log != nil {
		log.Warn(args...)
	}
}

func Warnf(format string, args ...interface{}) {
	if log != nil {
		log.Warnf(format, args...)
	}
}

func Error(args ...interface{}) {
	if log != nil {
		log.Error(args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if log != nil {
		log.Errorf(format, args...)
	} else {
		fmt.Printf("ERROR: "+format+"\n", args...)
	}
}

func Fatal(args ...interface{}) {
	if log != nil {
		log.Fatal(args...)
	} else {
		fmt.Print("FATAL: ")
		fmt.Println(args...)
		os.Exit(1)
	}
}

func Fatalf(format string, args ...interface{}) {
	if log != nil {
		log.Fatalf(format, args...)
	} else {
		fmt.Printf("FATAL: "+format+"\n", args...)
		os.Exit(1)
	}
}
