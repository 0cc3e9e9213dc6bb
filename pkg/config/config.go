package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	configDir       string = "dbgctl"
	configDirHidden string = ".dbgctl"
	configFile      string = "config.yml"
)

// DefaultCommandTimeout bounds a single command round trip with lldb when
// the configuration file does not say otherwise.
const DefaultCommandTimeout = 30 * time.Second

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// LLDBPath is the lldb executable to drive. If empty lldb is looked up
	// in PATH.
	LLDBPath string `yaml:"lldb-path"`

	// CommandTimeout is the maximum time spent waiting for lldb to answer a
	// single command. Zero waits forever.
	CommandTimeout *time.Duration `yaml:"command-timeout,omitempty"`

	// WorkingDir is the working directory of launched processes. If empty
	// the current directory at launch time is used.
	WorkingDir string `yaml:"working-dir"`

	// BaseDir is prefixed to executable paths given without a base
	// directory.
	BaseDir string `yaml:"base-dir"`

	// Arch selects the architecture of created targets. Empty selects the
	// engine default.
	Arch string `yaml:"arch"`
}

// Timeout returns the configured command timeout, or DefaultCommandTimeout.
func (c *Config) Timeout() time.Duration {
	if c == nil || c.CommandTimeout == nil {
		return DefaultCommandTimeout
	}
	return *c.CommandTimeout
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return &Config{}
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		fmt.Printf("Unable to read config data: %v.", err)
		return &Config{}
	}

	c, err := parseConfig(data)
	if err != nil {
		fmt.Printf("Unable to decode config file: %v.", err)
		return &Config{}
	}
	return c
}

func parseConfig(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for dbgctl.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Path to the lldb executable, searched in PATH when unset.
# lldb-path: /usr/bin/lldb

# Maximum time to wait for lldb to answer a single command, 0 waits forever.
# command-timeout: 30s

# Working directory of launched processes, the current directory when unset.
# working-dir: /tmp

# Directory prefixed to executables given without one.
# base-dir: /home/user/build

# Architecture of created targets, lldb picks one when unset.
# arch: x86_64
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	if configPath := os.Getenv("XDG_CONFIG_HOME"); configPath != "" {
		return filepath.Join(configPath, configDir, file), nil
	}

	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return filepath.Join(userHomeDir, configDirHidden, file), nil
}
