package discovery

import (
	"net"
	"testing"

	"github.com/google/uuid"
	"github.com/libp2p/zeroconf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(instance string, txt []string, v4, v6 []net.IP) *zeroconf.ServiceEntry {
	return &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: instance,
			Service:  serviceType,
			Domain:   domain,
		},
		Port:     42069,
		Text:     txt,
		AddrIPv4: v4,
		AddrIPv6: v6,
	}
}

func TestParseEntry(t *testing.T) {
	self := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	other := uuid.MustParse("00000000-0000-0000-0000-000000000002")

	e := entry("desk_"+other.String(), []string{
		"id=" + other.String(),
		"name=desk",
		"ver=dev",
		"group=alice",
		"features=text",
	}, []net.IP{net.IPv4(192, 168, 1, 7)}, nil)

	p, ok := ParseEntry(e, self)
	require.True(t, ok)
	assert.Equal(t, other, p.ID)
	assert.Equal(t, "desk", p.Name)
	assert.Equal(t, "192.168.1.7:42069", p.Addr)
	assert.Equal(t, "alice", p.Group)
}

func TestParseEntryDropsSelf(t *testing.T) {
	self := uuid.New()
	e := entry("me", []string{"id=" + self.String()}, []net.IP{net.IPv4(10, 0, 0, 1)}, nil)

	_, ok := ParseEntry(e, self)
	assert.False(t, ok)
}

func TestParseEntryDropsMissingOrMalformedID(t *testing.T) {
	self := uuid.New()

	_, ok := ParseEntry(entry("x", []string{"name=y"}, []net.IP{net.IPv4(10, 0, 0, 1)}, nil), self)
	assert.False(t, ok)

	_, ok = ParseEntry(entry("x", []string{"id=garbage"}, []net.IP{net.IPv4(10, 0, 0, 1)}, nil), self)
	assert.False(t, ok)
}

func TestParseEntryDropsUnresolved(t *testing.T) {
	self := uuid.New()
	e := entry("x", []string{"id=" + uuid.NewString()}, nil, nil)

	_, ok := ParseEntry(e, self)
	assert.False(t, ok)
}

func TestParseEntryPrefersIPv4(t *testing.T) {
	self := uuid.New()
	other := uuid.New()
	v6 := net.ParseIP("fe80::1")
	e := entry("x", []string{"id=" + other.String()}, []net.IP{net.IPv4(10, 0, 0, 9)}, []net.IP{v6})

	p, ok := ParseEntry(e, self)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.9:42069", p.Addr)
}

func TestParseEntryFallsBackToIPv6(t *testing.T) {
	self := uuid.New()
	other := uuid.New()
	e := entry("x", []string{"id=" + other.String()}, nil, []net.IP{net.ParseIP("fe80::1")})

	p, ok := ParseEntry(e, self)
	require.True(t, ok)
	assert.Equal(t, "[fe80::1]:42069", p.Addr)
}

func TestParseEntryNameFallsBackToInstance(t *testing.T) {
	self := uuid.New()
	other := uuid.New()
	e := entry("desk_abc", []string{"id=" + other.String()}, []net.IP{net.IPv4(10, 0, 0, 1)}, nil)

	p, ok := ParseEntry(e, self)
	require.True(t, ok)
	assert.Equal(t, "desk_abc", p.Name)
}

func TestParseTXT(t *testing.T) {
	m := parseTXT([]string{"id=abc", "empty=", "noequals", "group=a=b"})
	assert.Equal(t, "abc", m["id"])
	assert.Equal(t, "", m["empty"])
	assert.Equal(t, "a=b", m["group"])
	_, ok := m["noequals"]
	assert.False(t, ok)
}
