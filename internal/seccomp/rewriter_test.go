package seccomp

import (
	"testing"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

func assertNoError(err error, t *testing.T, context string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", context, err)
	}
}

// TestRewriteMapsNonAllowVerdictToTraceIndex exercises spec.md §8's
// scenario 6: a filter whose only RET is a constant ERRNO verdict must
// come back as SECCOMP_RET_TRACE|0x100, with the bijection recovering the
// original verdict.
func TestRewriteMapsNonAllowVerdictToTraceIndex(t *testing.T) {
	const errnoVerdict = uint32(unix.SECCOMP_RET_ERRNO | 3)

	assembled, err := bpf.Assemble([]bpf.Instruction{
		bpf.RetConstant{Val: errnoVerdict},
	})
	assertNoError(err, t, "assembling fixture program")

	program := make([]unix.SockFilter, len(assembled))
	for i, r := range assembled {
		program[i] = unix.SockFilter{Code: r.Op, Jt: r.Jt, Jf: r.Jf, K: r.K}
	}

	r := NewRewriter()
	rewritten, err := r.Rewrite(program, nil)
	assertNoError(err, t, "Rewrite")

	if len(rewritten) != 1 {
		t.Fatalf("rewritten program has %d instructions, want 1", len(rewritten))
	}
	want := uint32(unix.SECCOMP_RET_TRACE) | BaseCustomData
	if rewritten[0].K != want {
		t.Fatalf("rewritten RET k = %#x, want %#x", rewritten[0].K, want)
	}

	got, ok := r.MapFilterDataToRealResult(BaseCustomData)
	if !ok {
		t.Fatalf("MapFilterDataToRealResult(%#x) reported not found", BaseCustomData)
	}
	if got != errnoVerdict {
		t.Fatalf("MapFilterDataToRealResult(%#x) = %#x, want %#x", BaseCustomData, got, errnoVerdict)
	}
}

func TestRewritePassesAllowThrough(t *testing.T) {
	assembled, err := bpf.Assemble([]bpf.Instruction{
		bpf.RetConstant{Val: unix.SECCOMP_RET_ALLOW},
	})
	assertNoError(err, t, "assembling fixture program")

	program := make([]unix.SockFilter, len(assembled))
	for i, r := range assembled {
		program[i] = unix.SockFilter{Code: r.Op, Jt: r.Jt, Jf: r.Jf, K: r.K}
	}

	r := NewRewriter()
	rewritten, err := r.Rewrite(program, nil)
	assertNoError(err, t, "Rewrite")

	if rewritten[0].K != unix.SECCOMP_RET_ALLOW {
		t.Fatalf("ALLOW verdict was rewritten: k = %#x", rewritten[0].K)
	}
}

func TestRewriteRejectsRegisterReturn(t *testing.T) {
	program := []unix.SockFilter{
		{Code: 0x16 /* BPF_RET|BPF_A */, Jt: 0, Jf: 0, K: 0},
	}
	r := NewRewriter()
	_, err := r.Rewrite(program, nil)
	if err == nil {
		t.Fatalf("Rewrite accepted a BPF_RET|BPF_A instruction, want ErrUnsupportedFilterForm")
	}
}

func TestBijectionRoundTripsMultipleVerdicts(t *testing.T) {
	verdicts := []uint32{
		uint32(unix.SECCOMP_RET_ERRNO | 1),
		uint32(unix.SECCOMP_RET_ERRNO | 2),
		uint32(unix.SECCOMP_RET_KILL_PROCESS),
	}
	r := NewRewriter()
	indices := make([]uint16, len(verdicts))
	for i, v := range verdicts {
		indices[i] = r.indexFor(v)
	}
	for i, v := range verdicts {
		got, ok := r.MapFilterDataToRealResult(indices[i])
		if !ok || got != v {
			t.Fatalf("round trip for verdict %#x: got %#x, ok=%v", v, got, ok)
		}
	}
}
