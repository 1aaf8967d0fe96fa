package gdbserver

// GdbInitScript is the static gdbinit text served to a connecting GDB
// client, per spec.md §6. Kept as a plain package-level string constant,
// the way the teacher keeps its DBGP XML response templates as literal
// constants in response_formats.go rather than reaching for a templating
// engine.
const GdbInitScript = `
define restart
  run c$arg0
end

define hook-stop
end

define hookpost-continue
end
define hookpost-step
end
define hookpost-next
end
define hookpost-finish
end

handle SIGURG stop
set unwindonsignal on
set prompt (rd)

python
import gdb

def _rd_check_gdb_version():
    ver = gdb.VERSION
    try:
        parts = [int(p) for p in ver.split('.')[:3]]
    except ValueError:
        return
    if parts == [7, 11, 0]:
        print("warning: gdb 7.11.0 has a known bug with rd's reverse execution; upgrade if possible")
    if parts < [7, 11, 1]:
        gdb.execute("set target-async off")

_rd_check_gdb_version()
end
`
