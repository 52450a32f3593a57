package sandbox

// TailSize is how much of a failing test log is fed back to the coder.
const TailSize = 2000

const truncatedMarker = "...(truncated)...\n"

// TailLog returns the last TailSize characters of log, prefixed with a
// truncation marker when anything was cut.
func TailLog(log string) string {
	runes := []rune(log)
	if len(runes) <= TailSize {
		return log
	}
	return truncatedMarker + string(runes[len(runes)-TailSize:])
}
