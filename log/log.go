// Package log provides the leveled logger shared by the harness and its
// command. Severity threshold and an optional log directory are wired to
// flags.
package log

import (
	"flag"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type severity int

const (
	DEBUG severity = iota
	INFO
	WARNING
	ERROR
)

var names = []string{
	DEBUG:   "DEBUG",
	INFO:    "INFO",
	WARNING: "WARNING",
	ERROR:   "ERROR",
}

func (s *severity) Set(value string) error {
	threshold := INFO
	value = strings.ToUpper(value)
	for i, name := range names {
		if name == value {
			threshold = severity(i)
		}
	}
	*s = threshold
	return nil
}

func (s *severity) String() string { return names[int(*s)] }

type logger struct {
	sync.Once

	debug   *stdlog.Logger
	info    *stdlog.Logger
	warning *stdlog.Logger
	err     *stdlog.Logger

	severity severity
	dir      string
}

var log logger

func init() {
	flag.StringVar(&log.dir, "log_dir", "", "if non-empty, write log files in this directory")
	flag.Var(&log.severity, "log_level", "logs at and above this level")
}

func setup() {
	format := stdlog.Ldate | stdlog.Ltime | stdlog.Lmicroseconds | stdlog.Lshortfile
	if log.dir != "" {
		fname := fmt.Sprintf("%s.%d.log", filepath.Base(os.Args[0]), os.Getpid())
		f, err := os.Create(filepath.Join(log.dir, fname))
		if err != nil {
			stdlog.Fatal(err)
		}
		log.debug = stdlog.New(f, "[DEBUG] ", format)
		log.info = stdlog.New(f, "[INFO] ", format)
		multi := io.MultiWriter(f, os.Stderr)
		log.warning = stdlog.New(multi, "[WARNING] ", format)
		log.err = stdlog.New(multi, "[ERROR] ", format)
	} else {
		log.debug = stdlog.New(os.Stdout, "[DEBUG] ", format)
		log.info = stdlog.New(os.Stdout, "[INFO] ", format)
		log.warning = stdlog.New(os.Stderr, "[WARNING] ", format)
		log.err = stdlog.New(os.Stderr, "[ERROR] ", format)
	}
}

func output(l *stdlog.Logger, s string) {
	l.Output(3, s)
}

func Debug(v ...interface{}) {
	log.Once.Do(setup)
	if log.severity == DEBUG {
		output(log.debug, fmt.Sprint(v...))
	}
}

func Debugf(format string, v ...interface{}) {
	log.Once.Do(setup)
	if log.severity == DEBUG {
		output(log.debug, fmt.Sprintf(format, v...))
	}
}

func Info(v ...interface{}) {
	log.Once.Do(setup)
	if log.severity <= INFO {
		output(log.info, fmt.Sprint(v...))
	}
}

func Infof(format string, v ...interface{}) {
	log.Once.Do(setup)
	if log.severity <= INFO {
		output(log.info, fmt.Sprintf(format, v...))
	}
}

func Warning(v ...interface{}) {
	log.Once.Do(setup)
	if log.severity <= WARNING {
		output(log.warning, fmt.Sprint(v...))
	}
}

func Warningf(format string, v ...interface{}) {
	log.Once.Do(setup)
	if log.severity <= WARNING {
		output(log.warning, fmt.Sprintf(format, v...))
	}
}

func Error(v ...interface{}) {
	log.Once.Do(setup)
	output(log.err, fmt.Sprint(v...))
}

func Errorf(format string, v ...interface{}) {
	log.Once.Do(setup)
	output(log.err, fmt.Sprintf(format, v...))
}

func Fatal(v ...interface{}) {
	log.Once.Do(setup)
	output(log.err, fmt.Sprint(v...))
	os.Exit(1)
}

func Fatalf(format string, v ...interface{}) {
	log.Once.Do(setup)
	output(log.err, fmt.Sprintf(format, v...))
	os.Exit(1)
}
