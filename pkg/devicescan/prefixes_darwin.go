//go:build darwin

package devicescan

// platformPrefixes matches ipc_find_devices' macOS device-name table.
var platformPrefixes = []string{"tty.usbmodem", "tty.usbserial-"}
