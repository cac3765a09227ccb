// Package sysinfo gathers facts about the local machine in the same shape a
// remote setup run reports them, so local nodes can be promoted without a
// transport.
package sysinfo

import (
	"fmt"
	"net"
	"os"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"autofleet/internal/node"
)

// families maps gopsutil platform families to os_family values.
var families = map[string]string{
	"rhel":   "RedHat",
	"fedora": "RedHat",
	"debian": "Debian",
	"suse":   "Suse",
	"arch":   "Archlinux",
	"alpine": "Alpine",
	"gentoo": "Gentoo",
}

var distributions = map[string]string{
	"centos":    "CentOS",
	"redhat":    "RedHat",
	"rocky":     "Rocky",
	"almalinux": "AlmaLinux",
	"fedora":    "Fedora",
	"ubuntu":    "Ubuntu",
	"debian":    "Debian",
	"opensuse":  "openSUSE",
	"alpine":    "Alpine",
	"arch":      "Archlinux",
}

// Collect gathers local facts. When network is a CIDR, the default address is
// taken from the interface inside that range.
func Collect(network string) (node.Facts, error) {
	var ipNet *net.IPNet
	if network != "" {
		_, n, err := net.ParseCIDR(network)
		if err != nil {
			return nil, fmt.Errorf("parsing network range %q: %w", network, err)
		}
		ipNet = n
	}

	iface, err := primaryInterface(ipNet)
	if err != nil {
		return nil, err
	}

	hostname, _ := os.Hostname()
	facts := node.Facts{
		"ansible_hostname":        shortName(hostname),
		"ansible_fqdn":            hostname,
		"ansible_system":          strings.ToUpper(runtime.GOOS[:1]) + runtime.GOOS[1:],
		"ansible_architecture":    architecture(runtime.GOARCH),
		"ansible_processor_cores": runtime.NumCPU(),
	}
	if iface != nil {
		facts["ansible_default_ipv4"] = map[string]any{
			"address":    iface.address,
			"macaddress": iface.mac,
			"interface":  iface.name,
		}
	}

	if info, err := host.Info(); err == nil {
		facts = facts.Merge(osFacts(info))
	}
	if runtime.GOOS == "linux" {
		if pretty := readOSReleasePrettyName(); pretty != "" {
			facts["ansible_distribution_pretty_name"] = pretty
		}
	}

	// CPU model
	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		facts["ansible_processor"] = cpuInfo[0].ModelName
	}

	// Memory
	if memInfo, err := mem.VirtualMemory(); err == nil {
		facts["ansible_memtotal_mb"] = int(memInfo.Total / (1024 * 1024))
	}

	// Mounts
	if partitions, err := disk.Partitions(false); err == nil {
		mounts := make([]any, 0, len(partitions))
		for _, p := range partitions {
			mounts = append(mounts, map[string]any{
				"mount":  p.Mountpoint,
				"device": p.Device,
				"fstype": p.Fstype,
			})
		}
		facts["ansible_mounts"] = mounts
	}

	return facts, nil
}

// osFacts derives the distribution and family facts from host info.
func osFacts(info *host.InfoStat) node.Facts {
	f := node.Facts{"ansible_kernel": info.KernelVersion}

	if name, ok := distributions[info.Platform]; ok {
		f["ansible_distribution"] = name
	} else if info.Platform != "" {
		f["ansible_distribution"] = strings.ToUpper(info.Platform[:1]) + info.Platform[1:]
	}

	if info.PlatformVersion != "" {
		f["ansible_distribution_version"] = info.PlatformVersion
		f["ansible_distribution_major_version"] = strings.SplitN(info.PlatformVersion, ".", 2)[0]
	}

	if family, ok := families[info.PlatformFamily]; ok {
		f["ansible_os_family"] = family
	} else if d, ok := f["ansible_distribution"].(string); ok {
		f["ansible_os_family"] = d
	}
	return f
}

func architecture(goarch string) string {
	switch goarch {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	case "386":
		return "i386"
	}
	return goarch
}

func shortName(hostname string) string {
	if i := strings.IndexByte(hostname, '.'); i > 0 {
		return hostname[:i]
	}
	return hostname
}

type netInfo struct {
	name    string
	mac     string
	address string
}

// primaryInterface returns the first up, non-loopback interface with an IPv4
// address, restricted to ipNet when given. Nil means none was found.
func primaryInterface(ipNet *net.IPNet) (*netInfo, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("listing interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			n, ok := addr.(*net.IPNet)
			if !ok || n.IP.To4() == nil {
				continue
			}
			if ipNet != nil && !ipNet.Contains(n.IP) {
				continue
			}
			return &netInfo{
				name:    iface.Name,
				mac:     iface.HardwareAddr.String(),
				address: n.IP.String(),
			}, nil
		}
	}

	if ipNet != nil {
		return nil, fmt.Errorf("no interface in %s", ipNet)
	}
	return nil, nil
}

// readOSReleasePrettyName parses /etc/os-release for the PRETTY_NAME field.
func readOSReleasePrettyName() string {
	data, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "PRETTY_NAME=") {
			return strings.Trim(strings.TrimPrefix(line, "PRETTY_NAME="), "\"")
		}
	}
	return ""
}
