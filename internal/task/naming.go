package task

import "strings"

// msBase strips the .ms suffix for use in derived file names.
func msBase(name string) string {
	return strings.TrimSuffix(name, ".ms")
}

// caltableName derives the on-disk name of a calibration table.
func caltableName(vis, suffix string) string {
	return msBase(vis) + "." + suffix
}

// sanitizeName makes a field or target name safe as a file-name component.
// Field names come from observers and can contain anything.
func sanitizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '_', r == '-', r == '+', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
