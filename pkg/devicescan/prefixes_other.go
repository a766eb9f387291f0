//go:build !linux && !darwin

package devicescan

// platformPrefixes has no known device-node convention on this platform;
// Enumerate will simply return an empty list.
var platformPrefixes []string
