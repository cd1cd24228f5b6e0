// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"

	"github.com/btcsuite/btcwatch/chain/btcdcodec"
	"github.com/btcsuite/btcwatch/txdb"
	"github.com/btcsuite/btcwatch/txupdate"
)

// logWriter implements io.Writer and plugs into the log rotator once it's
// been initialized with a log file.
type logWriter struct {
	rotatorPipe *io.PipeWriter
}

func (w *logWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	if w.rotatorPipe == nil {
		return len(p), nil
	}
	return w.rotatorPipe.Write(p)
}

var (
	writer = &logWriter{}

	backendLog = btclog.NewBackend(writer)

	logRotator *rotator.Rotator

	mainLog      = backendLog.Logger("BTCW")
	txdbLog      = backendLog.Logger("TXDB")
	txupdLog     = backendLog.Logger("TXUP")
	btcdcodecLog = backendLog.Logger("CHAN")
)

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]btclog.Logger{
	"BTCW": mainLog,
	"TXDB": txdbLog,
	"TXUP": txupdLog,
	"CHAN": btcdcodecLog,
}

func init() {
	txdb.UseLogger(txdbLog)
	txupdate.UseLogger(txupdLog)
	btcdcodec.UseLogger(btcdcodecLog)
}

// initLogRotator initializes the logging rotator to write logs to logFile
// and create roll files in the same directory. It must be called before
// the log output is used for anything the user should see on disk.
func initLogRotator(logFile string) {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		os.Exit(1)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file rotator: %v\n", err)
		os.Exit(1)
	}

	pr, pw := io.Pipe()
	go r.Run(pr)

	writer.rotatorPipe = pw
	logRotator = r
}

// setLogLevels sets the log level for every subsystem logger.
func setLogLevels(levelStr string) {
	level, ok := btclog.LevelFromString(levelStr)
	if !ok {
		level = btclog.LevelInfo
	}
	for _, logger := range subsystemLoggers {
		logger.SetLevel(level)
	}
}
