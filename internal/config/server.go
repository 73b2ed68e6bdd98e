package config

import (
	"fmt"
	"net"
)

// pickIP selects a bind address matching the requested mode ("public" or
// "private") from the host's non-loopback interfaces.
func pickIP(mode string) (net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if (iface.Flags&net.FlagUp) == 0 || (iface.Flags&net.FlagLoopback) != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip == nil || ip.IsLoopback() {
				continue
			}
			ip = ip.To4()
			if ip == nil {
				continue
			}

			if mode == "private" && isPrivateIP(ip) {
				return ip, nil
			}
			if mode == "public" && !isPrivateIP(ip) {
				return ip, nil
			}
		}
	}
	return nil, fmt.Errorf("no suitable %s interface found", mode)
}

func isPrivateIP(ip net.IP) bool {
	privateBlocks := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
	}
	for _, block := range privateBlocks {
		_, cidr, _ := net.ParseCIDR(block)
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// ResolveHostname fills in cfg.DHT.Hostname by auto-picking an interface
// matching cfg.DHT.Mode when it was left blank in the config file/flags.
func (cfg *Config) ResolveHostname() error {
	if cfg.DHT.Hostname != "" && cfg.DHT.Hostname != "0.0.0.0" {
		ip := net.ParseIP(cfg.DHT.Hostname)
		if ip == nil {
			return fmt.Errorf("invalid DHT.HOSTNAME: %s", cfg.DHT.Hostname)
		}
		if cfg.DHT.Mode == "private" && !isPrivateIP(ip) {
			return fmt.Errorf("host %s is not private but dht.mode=private", cfg.DHT.Hostname)
		}
		if cfg.DHT.Mode == "public" && isPrivateIP(ip) {
			return fmt.Errorf("host %s is private but dht.mode=public", cfg.DHT.Hostname)
		}
		return nil
	}
	ip, err := pickIP(cfg.DHT.Mode)
	if err != nil {
		return err
	}
	cfg.DHT.Hostname = ip.String()
	return nil
}
