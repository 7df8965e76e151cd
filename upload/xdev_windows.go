//go:build windows

package upload

// isCrossDevice is always false on Windows; os.Rename there fails outright
// across volumes rather than returning a distinguishable EXDEV-equivalent,
// so SaveAs reports the rename error as-is instead of attempting a copy.
func isCrossDevice(err error) bool {
	return false
}
