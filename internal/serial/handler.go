package serial

import _ "embed"

//go:embed upload_handler.ino
var uploadHandler string

// UploadHandlerSketch returns the firmware-side handler for the upload
// protocol. Boards must run it for ack mode to work.
func UploadHandlerSketch() string {
	return uploadHandler
}
