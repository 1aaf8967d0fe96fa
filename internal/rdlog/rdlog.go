// Package rdlog carries the teacher's ad hoc logging taxonomy (colored
// status lines plus a fatalIf/panicIf pair) into a shared package so every
// internal/ subsystem can use it without importing the CLI.
package rdlog

import (
	"fmt"
	"log"
	"path"
	"runtime"
	"runtime/debug"

	"github.com/fatih/color"
)

// Verbose gates Verboseln and Verbosef. Subcommands set this from
// viper's "verbose" flag, mirroring engine.VerboseFlag in the teacher.
var Verbose bool

// ShowGdbNotifications mirrors engine.ShowGdbNotifications. The (rd)
// console toggles it; no code in rd reads it, so it changes no output.
var ShowGdbNotifications bool

func Verboseln(a ...interface{}) {
	if Verbose {
		fmt.Println(a...)
	}
}

func Verbosef(format string, a ...interface{}) {
	if Verbose {
		fmt.Printf(format, a...)
	}
}

// Info prints a green status line, for successful/expected transitions.
func Info(format string, a ...interface{}) {
	color.Green(format, a...)
}

// Warn prints a yellow status line, for recoverable/user-facing conditions.
func Warn(format string, a ...interface{}) {
	color.Yellow(format, a...)
}

// Danger prints a red status line, for reverse-mode and failure conditions.
func Danger(format string, a ...interface{}) {
	color.Red(format, a...)
}

// FatalIf ends the process with a source-located message, for conditions the
// caller cannot recover from (e.g. a malformed trace on startup).
func FatalIf(err error) {
	if err == nil {
		return
	}
	if _, file, line, ok := runtime.Caller(1); ok {
		log.Fatalf("%v:%v: %v\n", path.Base(file), line, err)
	}
	log.Fatal(err)
}

// PanicIf unwinds the current request (GdbServer connection, syscall
// preparation, filter rewrite) instead of killing the process, for
// violations of an invariant the code itself is supposed to guarantee.
func PanicIf(err error) {
	if err != nil {
		panic(fmt.Sprintf("rd: \x1b[101mpanic:\x1b[0m %v\n%s\n", err, debug.Stack()))
	}
}

// PanicWith is PanicIf for a plain message instead of an error value.
func PanicWith(format string, a ...interface{}) {
	panic(fmt.Sprintf("rd: \x1b[101mpanic:\x1b[0m %v\n%s\n", fmt.Sprintf(format, a...), debug.Stack()))
}
