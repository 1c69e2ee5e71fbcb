//go:build !(darwin || linux) || noh264

package openh264

// OpenH264Available reports whether libopenh264 was loaded.
func OpenH264Available() bool {
	return false
}

// OpenH264LoadError returns the reason libopenh264 could not be loaded.
func OpenH264LoadError() error {
	return ErrProviderNotFound
}

// OpenH264Version returns the version of the loaded library.
func OpenH264Version() (string, error) {
	return "", ErrProviderNotFound
}
