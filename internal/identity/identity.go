// Package identity derives the hardware tag attached to every outbound record.
package identity

import (
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/google/uuid"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// Unknown replaces any address that cannot identify this host.
const Unknown = "unknown"

var virtualPrefixes = []string{"lo", "veth", "docker", "br-", "virbr", "tun", "tap"}

// Swapped in tests.
var (
	listInterfaces = psnet.Interfaces
	nodeInterface  = uuid.NodeInterface
	nodeID         = uuid.NodeID
)

// Resolver computes the machine identity once per process.
type Resolver struct {
	Log *slog.Logger

	once sync.Once
	id   string
}

func (r *Resolver) MachineID() string {
	r.once.Do(func() {
		r.id = resolve(r.logger())
	})
	return r.id
}

func (r *Resolver) logger() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

func resolve(log *slog.Logger) string {
	ifaces, err := listInterfaces()
	if err != nil {
		log.Warn("interface enumeration failed", "err", err)
	}
	for _, iface := range ifaces {
		if isVirtual(iface) {
			continue
		}
		if id := Normalize(iface.HardwareAddr); id != Unknown {
			log.Info("machine identity resolved", "mac", id, "interface", iface.Name)
			return id
		}
	}
	if name := nodeInterface(); name != "" {
		if id := Normalize(formatNode(nodeID())); id != Unknown {
			log.Info("machine identity resolved", "mac", id, "interface", name)
			return id
		}
	}
	log.Warn("machine identity unavailable", "mac", Unknown)
	return Unknown
}

func isVirtual(iface psnet.InterfaceStat) bool {
	for _, flag := range iface.Flags {
		if flag == "loopback" {
			return true
		}
	}
	for _, p := range virtualPrefixes {
		if strings.HasPrefix(iface.Name, p) {
			return true
		}
	}
	return false
}

func formatNode(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return net.HardwareAddr(b).String()
}

// Normalize renders raw as upper-case colon-separated hex. Addresses that
// are empty, unparsable, all-zero or all-one become Unknown.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Unknown
	}
	hw, err := net.ParseMAC(raw)
	if err != nil {
		return Unknown
	}
	zero, ones := true, true
	for _, b := range hw {
		if b != 0x00 {
			zero = false
		}
		if b != 0xff {
			ones = false
		}
	}
	if zero || ones {
		return Unknown
	}
	return strings.ToUpper(hw.String())
}
