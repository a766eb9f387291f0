//go:build linux

package devicescan

// platformPrefixes matches ipc_find_devices' Linux device-name table.
var platformPrefixes = []string{"ttyACM", "ttyUSB"}
