package daemon

import (
	"github.com/spf13/pflag"
)

// RegisterFlags adds the daemon loop options to fs
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Bool(OptRunOnce, false, "Run the command just once")
	fs.Int(OptRunMax, 0, "Run the command x times (0 = unbounded)")
	fs.Uint64(OptMemoryMax, 0, "Gracefully stop once peak memory, in bytes, is reached (0 = unlimited)")
	fs.Bool(OptShutdownOnException, false, "Ask for shutdown if an iteration fails")
	fs.Bool(OptShowExceptions, false, "Display iteration failures on the command output")
}

// FlagOptions exposes the flags explicitly set on fs as an OptionSource.
// Flags left at their default are reported as absent so they do not override
// values coming from a configuration file.
func FlagOptions(fs *pflag.FlagSet) OptionSource {
	return flagOptions{fs: fs}
}

type flagOptions struct {
	fs *pflag.FlagSet
}

func (f flagOptions) HasOption(name string) bool {
	return f.fs.Lookup(name) != nil && f.fs.Changed(name)
}

func (f flagOptions) GetOption(name string) string {
	flag := f.fs.Lookup(name)
	if flag == nil {
		return ""
	}
	return flag.Value.String()
}
