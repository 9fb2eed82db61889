package logger

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// Flags are the logging switches shared by every command.
type Flags struct {
	Level  string
	JSON   bool
	Source bool
	// LevelSet reports whether --log-level was passed explicitly.
	LevelSet bool
}

// FlagsFromCommand reads --log-level, --log-json and --log-source, which may
// be declared on cmd or any of its parents.
func FlagsFromCommand(cmd *cobra.Command) (Flags, error) {
	var out Flags
	level := cmd.Flag("log-level")
	if level == nil {
		return out, fmt.Errorf("failed to get log-level flag: not defined")
	}
	out.Level = level.Value.String()
	out.LevelSet = level.Changed
	var err error
	if out.JSON, err = boolFlag(cmd, "log-json"); err != nil {
		return out, err
	}
	if out.Source, err = boolFlag(cmd, "log-source"); err != nil {
		return out, err
	}
	return out, nil
}

func boolFlag(cmd *cobra.Command, name string) (bool, error) {
	f := cmd.Flag(name)
	if f == nil {
		return false, nil
	}
	v, err := strconv.ParseBool(f.Value.String())
	if err != nil {
		return false, fmt.Errorf("failed to get %s flag: %w", name, err)
	}
	return v, nil
}

// Setup installs the default logger for a CLI run. fallbackLevel applies
// when --log-level was left at its default.
func Setup(f Flags, fallbackLevel string) Logger {
	level := f.Level
	if !f.LevelSet && fallbackLevel != "" {
		level = fallbackLevel
	}
	Init(&Config{
		Level:      ParseLevel(level),
		JSON:       f.JSON,
		AddSource:  f.Source,
		TimeFormat: "15:04:05",
	})
	return GetDefault()
}
