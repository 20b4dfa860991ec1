package pools

import "runtime/debug"

func applyGCPercent(percent int) {
	if percent > 0 {
		debug.SetGCPercent(percent)
	}
}

func applyMemoryLimit(bytes int64) {
	debug.SetMemoryLimit(bytes)
}
