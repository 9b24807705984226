package config

import (
	"fmt"
	"io"
	"os"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".elfdbg"
	configFile string = "config.yml"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// Prompt shown while waiting for the operator.
	Prompt string `yaml:"prompt,omitempty"`

	// DisableASLR launches the target with address space randomization
	// turned off, so that addresses are stable between sessions.
	DisableASLR bool `yaml:"disable-aslr"`

	// ShowSymbols prints the symbol table of the target before launching
	// it. Defaults to true.
	ShowSymbols *bool `yaml:"show-symbols,omitempty"`

	// SymbolCacheSize is the number of address to symbol lookups kept in
	// memory.
	SymbolCacheSize int `yaml:"symbol-cache-size,omitempty"`

	// Register name color (3/4 bit color codes as defined
	// here: https://en.wikipedia.org/wiki/ANSI_escape_code#Colors)
	RegisterColor int `yaml:"register-color,omitempty"`
}

// ShouldShowSymbols reports whether the symbol table is printed on start.
func (c *Config) ShouldShowSymbols() bool {
	return c.ShowSymbols == nil || *c.ShowSymbols
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

	c, err := readConfig(f)
	if err != nil {
		fmt.Printf("Unable to decode config file: %v.", err)
		return &Config{}
	}
	return c
}

func readConfig(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
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
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f io.Writer) error {
	_, err := io.WriteString(f,
		`# Configuration file for the elfdbg debugger.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Prompt shown while the target is stopped.
# prompt: "(elfdbg) "

# Launch the target with address space layout randomization disabled.
# disable-aslr: true

# Set to false to skip printing the symbol table before the target starts.
# show-symbols: false

# Number of address to symbol lookups kept in memory.
# symbol-cache-size: 256

# Uncomment the following line and set your preferred ANSI foreground color
# for register names (if unset, default is 34, dark blue).
# register-color: 34
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
	userHomeDir, err := os.UserHomeDir()
	if err != nil {
		userHomeDir = "."
	}
	return path.Join(userHomeDir, configDir, file), nil
}
