package fleet

import "fmt"

// DevicePath returns the document path of a device status record.
func DevicePath(orgID, deviceID string) string {
	return fmt.Sprintf("organizations/%s/devices/%s", orgID, deviceID)
}

// CommandPath returns the document path of a command record.
func CommandPath(orgID, commandID string) string {
	return fmt.Sprintf("organizations/%s/commands/%s", orgID, commandID)
}
