package format

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"
)

// FormatDuration formats a duration readably.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		if s > 0 {
			return fmt.Sprintf("%dm%ds", m, s)
		}
		return fmt.Sprintf("%dm", m)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}

// FormatLimit prints a threshold without trailing zeros (95, 82.5).
func FormatLimit(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// SafeFloat safely gets a float from an array.
func SafeFloat(arr []float64, def float64) float64 {
	if len(arr) > 0 {
		return arr[0]
	}
	return def
}

// BaseName returns the lowercase file name of an executable path.
// Windows and POSIX separators are both accepted.
func BaseName(exe string) string {
	exe = strings.TrimSpace(strings.ReplaceAll(exe, `\`, "/"))
	if exe == "" {
		return ""
	}
	return strings.ToLower(path.Base(exe))
}
