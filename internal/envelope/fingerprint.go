package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"runtime"
)

// MachineFingerprint derives a stable identifier from the host name and
// platform. Archives sealed without a configured machine_id can only be
// opened on a host with the same fingerprint.
func MachineFingerprint() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}

	platform := sha256.Sum256([]byte(runtime.GOOS + "-" + runtime.GOARCH))
	raw := fmt.Sprintf("%s-%s-%s", host, runtime.GOARCH, hex.EncodeToString(platform[:])[:16])

	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
