package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

const defaultPrompt = "stsh> "

type config struct {
	path    string
	prompt  string
	debug   bool
	logFile string
	command string
}

// fileConfig is the YAML config file. Absent keys leave the flag defaults in
// place.
type fileConfig struct {
	Prompt  *string `yaml:"prompt"`
	Debug   *bool   `yaml:"debug"`
	LogFile *string `yaml:"log_file"`
}

func addFlags(fs *pflag.FlagSet, cfg *config) {
	fs.StringVar(&cfg.path, "config", defaultConfigPath(), "Path to YAML config file")
	fs.StringVar(&cfg.prompt, "prompt", defaultPrompt, "Prompt shown before each command")
	fs.BoolVar(&cfg.debug, "debug", false, "Enable debug logs")
	fs.StringVar(&cfg.logFile, "log-file", "", "Write logs to file")

	fs.StringVarP(
		&cfg.command,
		"command",
		"c",
		"",
		"Run a single command line and exit",
	)
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}

	return filepath.Join(dir, "stsh", "config.yaml")
}

// load applies the config file at c.path. Flags set on the command line take
// precedence over values from the file. A missing file is not an error.
func (c *config) load(flags *pflag.FlagSet) error {
	if c.path == "" {
		return nil
	}

	f, err := os.Open(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var fc fileConfig

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config %s: %w", c.path, err)
	}

	if fc.Prompt != nil && !flags.Changed("prompt") {
		c.prompt = *fc.Prompt
	}

	if fc.Debug != nil && !flags.Changed("debug") {
		c.debug = *fc.Debug
	}

	if fc.LogFile != nil && !flags.Changed("log-file") {
		c.logFile = *fc.LogFile
	}

	return nil
}

func (c *config) validate() error {
	if c.prompt == "" {
		return errors.New("prompt cannot be empty")
	}

	if strings.TrimSpace(c.command) == "" && c.command != "" {
		return errors.New("command cannot be blank")
	}

	if c.logFile != "" {
		dir := filepath.Dir(c.logFile)

		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("failed to stat log-file directory: %w", err)
		}

		if !info.IsDir() {
			return fmt.Errorf("log-file directory %s is not a directory", dir)
		}

		if err := unix.Access(dir, unix.W_OK); err != nil {
			return fmt.Errorf("log-file directory %s is not writable: %w", dir, err)
		}
	}

	return nil
}
