package serial

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/riverwatch/floodsentry/internal/types"
)

// Glob patterns for candidate serial devices. The by-id entries come first
// because their names carry the USB vendor and chip strings used for scoring.
var devicePatterns = []string{
	"/dev/serial/by-id/*",
	"/dev/ttyUSB*",
	"/dev/ttyACM*",
}

// ListAvailablePorts enumerates candidate serial ports. Symlinks under
// /dev/serial/by-id are resolved to their target device; the symlink name is
// kept as the port description.
func ListAvailablePorts() []types.PortInfo {
	var ports []types.PortInfo
	seen := make(map[string]bool)

	for _, pattern := range devicePatterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, match := range matches {
			device := match
			description := ""
			if resolved, err := filepath.EvalSymlinks(match); err == nil && resolved != match {
				device = resolved
				description = filepath.Base(match)
			}
			if seen[device] {
				// Keep the by-id description if the raw device was
				// enumerated without one.
				continue
			}
			if _, err := os.Stat(device); err != nil {
				continue
			}
			seen[device] = true
			ports = append(ports, types.PortInfo{Device: device, Description: description})
		}
	}

	return ports
}

// scorePort counts device-identifying keyword matches in a port's combined
// device path and description. Underscores and dashes in by-id names are
// treated as spaces so multi-word keywords like "usb serial" match.
func scorePort(p types.PortInfo, keywords []string) int {
	text := strings.ToLower(p.Device + " " + p.Description)
	text = strings.NewReplacer("_", " ", "-", " ").Replace(text)
	score := 0
	for _, k := range keywords {
		if strings.Contains(text, strings.ToLower(k)) {
			score++
		}
	}
	return score
}

// autodetectPort picks the candidate port that best matches the
// device-identifying keywords. When candidates exist but none match, the
// first one is returned anyway; a lone USB serial adapter is almost always
// the sensor. Returns empty when no ports are present.
func autodetectPort(ports []types.PortInfo, keywords []string) string {
	if len(ports) == 0 {
		return ""
	}
	best := ports[0]
	bestScore := scorePort(best, keywords)
	for _, p := range ports[1:] {
		if s := scorePort(p, keywords); s > bestScore {
			best = p
			bestScore = s
		}
	}
	return best.Device
}
