package engine

import (
	"fmt"
	"strings"

	"github.com/Carmen-Shannon/oxy-terrain/engine/profiler"
	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain"
)

// hudTitle formats a profiler snapshot for the window title bar.
func hudTitle(base string, s *profiler.Snapshot, view terrain.ViewKind) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s | %.0f fps | %d patches", base, s.FPS, s.Patches)
	if len(s.PerLOD) > 0 {
		b.WriteString(" [")
		for i, n := range s.PerLOD {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%d", n)
		}
		b.WriteByte(']')
	}
	if s.Saturated {
		b.WriteString(" SATURATED")
	}
	if view != terrain.ViewGame {
		fmt.Fprintf(&b, " | %s (frozen)", view)
	}
	return b.String()
}
