package main

import "time"

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// RunFlags Flag structs to decouple cobra from logic for testing.
type RunFlags struct {
	ConfigPath string
	TUI        bool
	Listen     string
	BasePath   string
	Metrics    bool
	Daemonize  bool
	PidFile    string
	LogFile    string
}

type CaptureFlags struct {
	ConfigPath string
	// Display overrides capture.display when >= -1.
	Display int
}

type ProvisionFlags struct {
	ConfigPath string
}

type PathsFlags struct {
	ConfigPath string
	JSON       bool
}

// APIFlags address a running daemon's HTTP API.
type APIFlags struct {
	ConfigPath string
	// APIUrl falls back to server.listen and server.base_path from the config.
	APIUrl   string
	CACert   string
	Insecure bool
	Timeout  time.Duration
}

type StatusFlags struct {
	APIFlags
	JSON bool
}

type TriggerFlags struct {
	APIFlags
	// Wait > 0 blocks for the cycle report up to this long.
	Wait time.Duration
}
