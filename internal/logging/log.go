// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


// Package logging builds the log context handed to every processing component.
// Writes to stdout, to a file, or to both.
package logging

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Log destinations
const (
	DestStream = "stream"
	DestFile   = "file"
	DestBoth   = "both"
)

// Options for building a logger
type Options struct {
	Destination string `yaml:"destination" json:"destination"` // stream, file or both
	File        string `yaml:"file" json:"file"`               // log file name, required for file and both
	Level       string `yaml:"level" json:"level"`             // debug or info; warn and error also accepted
}

// Flushes the optional log file and closes it
type fileCloser struct {
	buf *bufio.Writer
	os  *os.File
}

func (fc *fileCloser) Close() error {
	if fc.os == nil {
		return nil
	}
	err := fc.buf.Flush()
	if cerr := fc.os.Close(); err == nil {
		err = cerr
	}
	fc.os = nil
	return err
}

// Unbuffered writer which flushes the log file after every entry, so
// log lines survive a fatal exit
type flushingWriter struct {
	w   io.Writer
	buf *bufio.Writer
}

func (fw flushingWriter) Write(p []byte) (n int, err error) {
	if n, err = fw.w.Write(p); err != nil {
		return n, err
	}
	return n, fw.buf.Flush()
}

// New creates a logger for the given options. The returned closer must be
// called once logging is done; it is a no-op for stream destinations.
func New(opts Options) (*logrus.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	log := logrus.New()
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableLevelTruncation: true})

	dest := strings.ToLower(opts.Destination)
	if dest == "" {
		dest = DestStream
	}
	closer := &fileCloser{}
	switch dest {
	case DestStream:
		log.SetOutput(os.Stdout)
		return log, closer, nil
	case DestFile, DestBoth:
		if opts.File == "" {
			return nil, nil, errors.Errorf("log destination %s needs a file name", dest)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "unable to open logfile '%s'", opts.File)
		}
		closer.os, closer.buf = f, bufio.NewWriter(f)
		var w io.Writer = closer.buf
		if dest == DestBoth {
			w = io.MultiWriter(os.Stdout, closer.buf)
		}
		log.SetOutput(flushingWriter{w: w, buf: closer.buf})
		return log, closer, nil
	default:
		return nil, nil, errors.Errorf("unknown log destination '%s', want one of %s, %s, %s",
			opts.Destination, DestStream, DestFile, DestBoth)
	}
}

// ParseLevel maps a level name to a logrus level. Empty means info.
func ParseLevel(name string) (logrus.Level, error) {
	switch strings.ToLower(name) {
	case "", "info":
		return logrus.InfoLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	}
	return logrus.InfoLevel, errors.Errorf("unknown log level '%s', want debug or info", name)
}

// Discard returns a logger which drops all output. Handy for tests and library use.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
