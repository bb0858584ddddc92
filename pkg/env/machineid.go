// Package env holds the configuration shared by the device and host
// environments.
package env

import (
	"os"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"
)

const appID = "ec.go"

// MachineID retrieves an ID identifying the machine, derived so the raw
// machine ID is not exposed.
func MachineID() string {
	id, err := machineid.ProtectedID(appID)
	if err != nil {
		glog.Warningf("machine id: %v", err)
		if host, err := os.Hostname(); err == nil {
			return host
		}
		return "ec"
	}
	return id[:12]
}
