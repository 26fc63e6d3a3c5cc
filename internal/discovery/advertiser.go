// Package discovery advertises the HTTP service via mDNS.
package discovery

import (
	"fmt"
	"net"
	"sync"

	"github.com/enbility/zeroconf/v3"

	"hwc-server/internal/logger"
)

const (
	ServiceType = "_http._tcp"
	Domain      = "local."

	// MaxInstanceNameLen is the DNS label limit
	MaxInstanceNameLen = 63
)

// Config controls the advertisement
type Config struct {
	Enabled      bool
	InstanceName string
	Interface    string // empty advertises on all interfaces
	Port         int
	Version      string
	Path         string
}

type shutdowner interface {
	Shutdown()
}

type registerFunc func(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (shutdowner, error)

func zeroconfRegister(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (shutdowner, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// Advertiser owns the mDNS registration
type Advertiser struct {
	cfg      Config
	log      logger.ILogger
	register registerFunc

	mu     sync.Mutex
	server shutdowner
}

// NewAdvertiser creates an advertiser
func NewAdvertiser(cfg Config, log logger.ILogger) *Advertiser {
	if log == nil {
		log = logger.NewComponentLogger("mdns")
	}
	if cfg.InstanceName == "" {
		cfg.InstanceName = "hwc"
	}
	if cfg.Path == "" {
		cfg.Path = "/monitor"
	}
	return &Advertiser{cfg: cfg, log: log, register: zeroconfRegister}
}

// TXT returns the TXT records of the service
func (a *Advertiser) TXT() []string {
	return []string{
		"version=" + a.cfg.Version,
		"path=" + a.cfg.Path,
	}
}

// Start registers the service, replacing a previous registration
func (a *Advertiser) Start() error {
	if !a.cfg.Enabled {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	ifaces, err := a.interfaces()
	if err != nil {
		return err
	}

	name := a.cfg.InstanceName
	if len(name) > MaxInstanceNameLen {
		name = name[:MaxInstanceNameLen]
	}
	server, err := a.register(name, ServiceType, Domain, a.cfg.Port, a.TXT(), ifaces)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}
	a.server = server
	a.log.LogInfo("📡 mDNS advertising %s.%s%s port %d", name, ServiceType, Domain, a.cfg.Port)
	return nil
}

func (a *Advertiser) interfaces() ([]net.Interface, error) {
	if a.cfg.Interface == "" {
		return nil, nil
	}
	iface, err := net.InterfaceByName(a.cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("mDNS interface %s: %w", a.cfg.Interface, err)
	}
	return []net.Interface{*iface}, nil
}

// Stop withdraws the advertisement
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}
