package logger

import (
	"io"
	"log"
	"os"
)

type Logger struct {
	debug *log.Logger
	info  *log.Logger
	warn  *log.Logger
	error *log.Logger
}

func New() *Logger {
	return &Logger{
		debug: log.New(os.Stdout, "DEBUG: ", log.Ldate|log.Ltime|log.Lshortfile),
		info:  log.New(os.Stdout, "INFO: ", log.Ldate|log.Ltime|log.Lshortfile),
		warn:  log.New(os.Stderr, "WARN: ", log.Ldate|log.Ltime|log.Lshortfile),
		error: log.New(os.Stderr, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile),
	}
}

func NewWithWriter(writer io.Writer) *Logger {
	return &Logger{
		debug: log.New(writer, "DEBUG: ", log.Ldate|log.Ltime|log.Lshortfile),
		info:  log.New(writer, "INFO: ", log.Ldate|log.Ltime|log.Lshortfile),
		warn:  log.New(writer, "WARN: ", log.Ldate|log.Ltime|log.Lshortfile),
		error: log.New(writer, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile),
	}
}

func (l *Logger) Debug(v ...interface{})                 { l.debug.Println(v...) }
func (l *Logger) Debugf(format string, v ...interface{}) { l.debug.Printf(format, v...) }
func (l *Logger) Info(v ...interface{})                  { l.info.Println(v...) }
func (l *Logger) Infof(format string, v ...interface{})  { l.info.Printf(format, v...) }
func (l *Logger) Warn(v ...interface{})                  { l.warn.Println(v...) }
func (l *Logger) Warnf(format string, v ...interface{})  { l.warn.Printf(format, v...) }
func (l *Logger) Error(v ...interface{})                 { l.error.Println(v...) }
func (l *Logger) Errorf(format string, v ...interface{}) { l.error.Printf(format, v...) }
