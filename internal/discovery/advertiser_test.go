package discovery

import (
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hwc-server/internal/logger"
)

type fakeServer struct {
	shutdowns int
}

func (s *fakeServer) Shutdown() { s.shutdowns++ }

type registration struct {
	instance, service, domain string
	port                      int
	txt                       []string
}

func newTestAdvertiser(cfg Config) (*Advertiser, *[]registration, *[]*fakeServer) {
	var regs []registration
	var servers []*fakeServer
	a := NewAdvertiser(cfg, logger.NewMockLogger())
	a.register = func(instance, service, domain string, port int, txt []string, _ []net.Interface) (shutdowner, error) {
		regs = append(regs, registration{instance, service, domain, port, txt})
		s := &fakeServer{}
		servers = append(servers, s)
		return s, nil
	}
	return a, &regs, &servers
}

func TestAdvertiserRegistersHTTPService(t *testing.T) {
	a, regs, servers := newTestAdvertiser(Config{Enabled: true, Port: 8080, Version: "1.2.0"})
	require.NoError(t, a.Start())
	require.Len(t, *regs, 1)

	r := (*regs)[0]
	assert.Equal(t, "hwc", r.instance)
	assert.Equal(t, "_http._tcp", r.service)
	assert.Equal(t, "local.", r.domain)
	assert.Equal(t, 8080, r.port)
	assert.Equal(t, []string{"version=1.2.0", "path=/monitor"}, r.txt)

	require.NoError(t, a.Start())
	assert.Equal(t, 1, (*servers)[0].shutdowns, "previous registration replaced")

	a.Stop()
	a.Stop()
	assert.Equal(t, 1, (*servers)[1].shutdowns)
}

func TestAdvertiserDisabled(t *testing.T) {
	a, regs, _ := newTestAdvertiser(Config{Port: 8080})
	require.NoError(t, a.Start())
	assert.Empty(t, *regs)
}

func TestAdvertiserTruncatesInstanceName(t *testing.T) {
	a, regs, _ := newTestAdvertiser(Config{Enabled: true, InstanceName: strings.Repeat("x", 80)})
	require.NoError(t, a.Start())
	assert.Len(t, (*regs)[0].instance, MaxInstanceNameLen)
}

func TestAdvertiserErrors(t *testing.T) {
	a := NewAdvertiser(Config{Enabled: true, Interface: "does-not-exist0"}, logger.NewMockLogger())
	assert.Error(t, a.Start())

	a = NewAdvertiser(Config{Enabled: true}, logger.NewMockLogger())
	a.register = func(string, string, string, int, []string, []net.Interface) (shutdowner, error) {
		return nil, errors.New("no multicast")
	}
	assert.ErrorContains(t, a.Start(), "no multicast")
}
