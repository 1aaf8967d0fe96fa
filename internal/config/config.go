// Package config collects the viper-resolved settings cmd/ hands to the
// core, grounded in the teacher's cmd/root.go initConfig. spec.md §4.2
// needs an explicit Target/ConnectionFlags value passed into
// gdbserver.New rather than ambient globals to stay testable, so unlike
// the teacher (which reads engine.VerboseFlag and friends as package
// globals) rd collects everything viper resolves into one struct here.
package config

import "time"

// Config is the fully resolved set of options a `rd replay` or `rd
// record` invocation runs with.
type Config struct {
	Verbose bool

	// GdbPort is the fixed port to listen on for the GDB client; zero
	// probes a port derived from the process's own pid, per spec.md §4.2.
	GdbPort int
	// KeepListening re-enters the accept loop after a client disconnects.
	KeepListening bool

	// TargetPid restricts at_target() to a specific thread group; zero
	// means "any", per spec.md §4.2's Target.
	TargetPid int32
	// RequireExec mirrors Target.RequireExec.
	RequireExec bool
	// MinEventTime mirrors Target.MinEventTime.
	MinEventTime int64

	// ReverseExecution enables reverse stepping/continue, per spec.md §4.2
	// ("with reverse execution enabled").
	ReverseExecution bool

	// TraceDir is the on-disk recorded trace to replay. Trace file I/O
	// itself is an external collaborator (spec.md §1); this is only the
	// path handed to it.
	TraceDir string

	// RecordArgs is the command line of the program to record, for `rd
	// record`.
	RecordArgs []string

	// ConnectTimeout is not consulted by ServeReplay, which waits for a GDB
	// connection with no time limit.
	ConnectTimeout time.Duration
}

// Default returns the zero-value configuration with the few settings that
// should never be silently zero filled in, mirroring the defaults the
// teacher's cmd/root.go sets via viper.SetDefault.
func Default() Config {
	return Config{
		ConnectTimeout: 30 * time.Second,
	}
}
