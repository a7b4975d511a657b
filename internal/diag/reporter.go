package diag

import (
	"fmt"
	"io"
	"sync"

	"excalibur/internal/abi"
)

// StreamReporter returns a sink that renders diagnostics as
// "<senderName>[<level>]: <message>" lines, sending warnings and errors to
// errOut and everything else to out.
func StreamReporter(out, errOut io.Writer) abi.DiagSink {
	var mu sync.Mutex
	return func(senderName string, level abi.Level, message string) {
		target := out
		if level >= abi.LevelWarning {
			target = errOut
		}
		mu.Lock()
		defer mu.Unlock()
		_, _ = fmt.Fprintf(target, "%s[%d]: %s\n", senderName, level, message)
	}
}
