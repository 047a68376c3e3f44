package build

import "os"

// CurrentCommit is set at link time with -X.
var CurrentCommit string

// BuildVersion is the local build version
const BuildVersion = "0.3.0"

// SchemaVersion is the version stamped on every pipeline message.
const SchemaVersion = 1

func UserVersion() string {
	if CurrentCommit == "" || os.Getenv("RAGFLOW_VERSION_IGNORE_COMMIT") == "1" {
		return BuildVersion
	}
	return BuildVersion + "+" + CurrentCommit
}
