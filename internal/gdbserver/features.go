package gdbserver

import (
	"strings"

	"github.com/Masterminds/semver"
)

// CPUFeatures bitmask, per spec.md §6's qSupported/feature negotiation; the
// same bitmask regs.go uses to decide which debug-register set to expose.

// capability is one static qSupported capability entry, grounded in the
// teacher's initFeatureMap (engine/features.go): a static table of
// name/value pairs reported to the client, most of them read-only.
type capability struct {
	name     string
	value    string
	readOnly bool
}

// staticCapabilities lists the GdbServer capabilities that never vary with
// the negotiated CPU feature set, following the teacher's pattern of a
// fixed table for the features a PHP IDE can query/set.
var staticCapabilities = []capability{
	{name: "multiprocess", value: "+"},
	{name: "ReverseStep", value: "+"},
	{name: "ReverseContinue", value: "+"},
	{name: "qXfer:auxv:read", value: "+"},
}

// minGdbVersionAsync is the earliest GDB release whose client correctly
// negotiates target-async; below this spec.md §6 requires disabling it in
// the gdbinit script rather than via qSupported.
var minGdbVersionAsync = semver.MustParse("7.11.1")

// BuildQSupportedResponse constructs the qSupported reply body GdbServer
// sends back in response to the client's own qSupported query, folding in
// whichever register-set capabilities the negotiated CPU features imply
// (AVX widens the register file, per regs.go's RegsBoundary), the same way
// the teacher's initFeatureMap builds one static table per session rather
// than recomputing capabilities inline at each query.
func BuildQSupportedResponse(features CPUFeatures) string {
	parts := make([]string, 0, len(staticCapabilities)+1)
	for _, c := range staticCapabilities {
		parts = append(parts, c.name+c.value)
	}
	if features&CPUAVX != 0 {
		parts = append(parts, "qXfer:features:read+")
	}
	return strings.Join(parts, ";")
}

// SupportsTargetAsync parses the GDB version string reported in the
// client's qSupported request (e.g. "gdb/7.11.1") and reports whether it is
// new enough to negotiate target-async, per spec.md §6. Unparseable version
// strings are treated conservatively as unsupported.
func SupportsTargetAsync(gdbVersion string) bool {
	v, err := semver.NewVersion(strings.TrimPrefix(gdbVersion, "gdb/"))
	if err != nil {
		return false
	}
	return !v.LessThan(minGdbVersionAsync)
}
