// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	flags "github.com/jessevdk/go-flags"

	"github.com/btcsuite/btcwatch/internal/cfgutil"
)

const (
	defaultConfigFilename = "btcwatch.conf"
	defaultDataDirname    = "data"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "btcwatch.log"
	defaultDbFilename     = "btcwatch.db"
	defaultRPCPort        = "8334"
	defaultPollInterval   = 10 * time.Second
)

var (
	btcwatchHomeDir    = btcutil.AppDataDir("btcwatch", false)
	defaultConfigFile  = filepath.Join(btcwatchHomeDir, defaultConfigFilename)
	defaultDataDir     = filepath.Join(btcwatchHomeDir, defaultDataDirname)
	defaultLogDir      = filepath.Join(btcwatchHomeDir, defaultLogDirname)
	defaultRPCCertFile = filepath.Join(btcwatchHomeDir, "rpc.cert")
)

// config defines the set of options this instance of btcwatch is running
// with, populated first from any config file and then from the command
// line, with the command line taking precedence.
type config struct {
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	DataDir     string `short:"b" long:"datadir" description:"Directory to store the transaction database"`
	LogDir      string `long:"logdir" description:"Directory to log output"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`

	TestNet3 bool `long:"testnet" description:"Use the test network"`
	RegTest  bool `long:"regtest" description:"Use the regression test network"`
	SimNet   bool `long:"simnet" description:"Use the simulation test network"`

	RPCConnect   *cfgutil.ExplicitString `long:"rpcconnect" description:"Hostname/IP and port of btcd RPC server to connect to (default localhost:8334, testnet: localhost:18334)"`
	RPCUser      string                  `short:"u" long:"rpcuser" description:"Username for btcd RPC authentication"`
	RPCPass      string                  `short:"P" long:"rpcpass" default-mask:"-" description:"Password for btcd RPC authentication"`
	RPCCert      string                  `long:"rpccert" description:"File containing the btcd RPC server's TLS certificate"`
	NoTLS        bool                    `long:"notls" description:"Disable TLS for the RPC client -- only allowed when connecting to localhost"`
	HasAddrIndex bool                    `long:"addrindex" description:"The connected btcd node was started with -addrindex"`

	WatchAddress []string      `long:"watch" description:"Address to watch on startup; may be given multiple times"`
	PollInterval time.Duration `long:"pollinterval" description:"How often to re-check a watched address's history"`
}

// netName returns the network directory name for the currently active
// network.
func netName(chainParams *chaincfg.Params) string {
	switch chainParams.Net {
	case chaincfg.TestNet3Params.Net:
		return "testnet3"
	case chaincfg.RegressionNetParams.Net:
		return "regtest"
	case chaincfg.SimNetParams.Net:
		return "simnet"
	default:
		return "mainnet"
	}
}

// cleanAndExpandPath expands environment variables and leading ~ in path,
// cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		path = strings.Replace(path, "~", filepath.Dir(btcwatchHomeDir), 1)
	}
	return filepath.Clean(os.ExpandEnv(path))
}

// validLogLevel reports whether logLevel is a supported debug level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace", "debug", "info", "warn", "error", "critical":
		return true
	}
	return false
}

// supportedSubsystems returns a sorted slice of the loggable subsystem
// identifiers.
func supportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for id := range subsystemLoggers {
		subsystems = append(subsystems, id)
	}
	sort.Strings(subsystems)
	return subsystems
}

// loadConfig reads a config file (if any) and command line flags into a
// config, in that order of precedence with the command line winning.
func loadConfig() (*config, *chaincfg.Params, error) {
	cfg := config{
		ConfigFile:   defaultConfigFile,
		DataDir:      defaultDataDir,
		LogDir:       defaultLogDir,
		DebugLevel:   defaultLogLevel,
		RPCConnect:   cfgutil.NewExplicitString("localhost:" + defaultRPCPort),
		RPCCert:      defaultRPCCertFile,
		PollInterval: defaultPollInterval,
	}

	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			preParser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	if preCfg.ShowVersion {
		fmt.Println(appName(), "version", version())
		os.Exit(0)
	}

	if exists, _ := cfgutil.FileExists(preCfg.ConfigFile); exists {
		if err := flags.NewIniParser(flags.NewParser(&cfg, flags.Default)).ParseFile(preCfg.ConfigFile); err != nil {
			if _, ok := err.(*os.PathError); !ok {
				fmt.Fprintln(os.Stderr, err)
				return nil, nil, err
			}
		}
	}

	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	numNets := 0
	chainParams := &chaincfg.MainNetParams
	if cfg.TestNet3 {
		numNets++
		chainParams = &chaincfg.TestNet3Params
	}
	if cfg.RegTest {
		numNets++
		chainParams = &chaincfg.RegressionNetParams
	}
	if cfg.SimNet {
		numNets++
		chainParams = &chaincfg.SimNetParams
	}
	if numNets > 1 {
		return nil, nil, fmt.Errorf("the testnet, regtest, and simnet params " +
			"can't be used together -- choose one")
	}

	if !validLogLevel(cfg.DebugLevel) {
		return nil, nil, fmt.Errorf("the specified debug level [%v] is invalid -- "+
			"supported levels %v", cfg.DebugLevel, []string{"trace", "debug", "info", "warn", "error", "critical"})
	}

	cfg.DataDir = filepath.Join(cleanAndExpandPath(cfg.DataDir), netName(chainParams))
	cfg.LogDir = filepath.Join(cleanAndExpandPath(cfg.LogDir), netName(chainParams))
	cfg.RPCCert = cleanAndExpandPath(cfg.RPCCert)

	if !cfg.RPCConnect.ExplicitlySet() {
		port := defaultRPCPort
		switch chainParams {
		case &chaincfg.TestNet3Params:
			port = "18334"
		case &chaincfg.RegressionNetParams:
			port = "18332"
		case &chaincfg.SimNetParams:
			port = "18556"
		}
		cfg.RPCConnect.Value = "localhost:" + port
	}
	normalized, err := cfgutil.NormalizeAddress(cfg.RPCConnect.Value, defaultRPCPort)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid rpcconnect network address: %v", err)
	}
	cfg.RPCConnect.Value = normalized

	if cfg.NoTLS {
		host, _, err := net.SplitHostPort(cfg.RPCConnect.Value)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid rpcconnect network address: %v", err)
		}
		ip := net.ParseIP(host)
		if host != "localhost" && (ip == nil || !ip.IsLoopback()) {
			return nil, nil, fmt.Errorf("the --notls option may only be used when connecting to localhost")
		}
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, nil, err
	}

	return &cfg, chainParams, nil
}

// dbPath returns the path to the serialized transaction database blob for
// the configured data directory.
func (c *config) dbPath() string {
	return filepath.Join(c.DataDir, defaultDbFilename)
}

func appName() string {
	name := filepath.Base(os.Args[0])
	return strings.TrimSuffix(name, filepath.Ext(name))
}
