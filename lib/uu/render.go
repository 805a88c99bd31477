package uu

/*
 * render.go
 * Render an arbitrary log payload as safe text
 * By J. Stuart McMurray
 * Created 20250101
 * Last Modified 20250101
 */

import "fmt"

// RenderOpaque renders v as a string safe to embed in a single log line.
// []byte and string values are uuencoded, since they may hold arbitrary
// binary data (raw-8-bit terminal output, DB blobs) that would otherwise
// break a line-oriented log format; anything else is rendered with its
// default fmt verb.
func RenderOpaque(v any) string {
	switch t := v.(type) {
	case []byte:
		return string(AppendEncode(nil, t))
	case string:
		return string(AppendEncode(nil, []byte(t)))
	default:
		return fmt.Sprintf("%v", v)
	}
}
