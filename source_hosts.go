package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/vasyahuyasa/ipscan/iptree"
	"github.com/vasyahuyasa/ipscan/log"
)

const (
	resolverLookupTimeout = time.Second * 5
	dnsDialerTimeout      = time.Second * 5
)

// resolverListConfig accepts a single address or a list of addresses.
type resolverListConfig struct {
	addrs []string
}

type resolverPool struct {
	// next index in pool
	next int

	resolvers []*net.Resolver
}

// loadHosts resolves host names to their IPv4 addresses and adds each as a
// /32. Names come from names and, when src is set, from a list with one name
// per line.
func (l *loader) loadHosts(src string, names []string, resolvers resolverListConfig) (int, error) {
	all := append([]string{}, names...)

	if src != "" {
		fromSrc, err := l.readNames(src)
		if err != nil {
			return 0, err
		}

		all = append(all, fromSrc...)
	}

	pool := makeResolverPoolFromConfig(resolvers)
	added := 0

	for _, name := range all {
		ips, err := pool.lookup(name)
		if err != nil {
			dnsErr := &net.DNSError{}
			if errors.As(err, &dnsErr) {
				log.Warnf("cannot resolve %q: %v", name, dnsErr)
				continue
			}

			return added, fmt.Errorf("cannot resolve %q: %w", name, err)
		}

		for _, ip := range ips {
			ip4 := ip.To4()
			if ip4 == nil {
				continue
			}

			block := iptree.Block{IP: uint32(ip4[0])<<24 | uint32(ip4[1])<<16 | uint32(ip4[2])<<8 | uint32(ip4[3]), Prefix: 32}
			if err := l.add(block); err != nil {
				log.Warnf("%s: %v", name, err)
				continue
			}

			added++
		}
	}

	return added, nil
}

func (l *loader) readNames(src string) ([]string, error) {
	rc, err := l.open(src)
	if err != nil {
		return nil, err
	}

	if err := l.buf.Init(rc); err != nil {
		l.buf.Close()
		return nil, fmt.Errorf("cannot read from %q: %w", src, err)
	}

	defer l.buf.Close()

	var names []string

	for {
		err := l.buf.LoadLine()
		if errors.Is(err, io.EOF) {
			return names, nil
		}

		if err != nil {
			return nil, fmt.Errorf("cannot read from %q: %w", src, err)
		}

		name := string(bytes.TrimSpace(stripComment(l.buf.Line())))
		if name != "" {
			names = append(names, name)
		}
	}
}

func makeResolverPoolFromConfig(resolversCfg resolverListConfig) *resolverPool {
	if resolversCfg.len() == 0 {
		return newDefaultResolverPool()
	}

	var resolvers []*net.Resolver

	for _, addr := range resolversCfg.addrs {
		// default dns port
		if !strings.Contains(addr, ":") {
			addr += ":53"
		}

		resolvers = append(resolvers, newResolver(addr))
	}

	return &resolverPool{
		resolvers: resolvers,
	}
}

func newResolver(addr string) *net.Resolver {
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			d := net.Dialer{
				Timeout: dnsDialerTimeout,
			}

			switch network {
			case "udp", "udp4", "udp6":
				return d.DialContext(ctx, "udp4", addr)
			case "tcp", "tcp4", "tcp6":
				return d.DialContext(ctx, "tcp4", addr)
			default:
				return nil, fmt.Errorf("unknown network %q", network)
			}
		},
	}
}

func newDefaultResolverPool() *resolverPool {
	return &resolverPool{
		resolvers: []*net.Resolver{
			{},
		},
	}
}

func (pool *resolverPool) get() *net.Resolver {
	r := pool.resolvers[pool.next]

	pool.next++
	if pool.next >= len(pool.resolvers) {
		pool.next = 0
	}

	return r
}

func (pool *resolverPool) lookup(name string) ([]net.IP, error) {
	ctx, cancel := context.WithTimeout(context.Background(), resolverLookupTimeout)
	defer cancel()

	return pool.get().LookupIP(ctx, "ip4", name)
}

func (list *resolverListConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var addr string
	if err := unmarshal(&addr); err == nil {
		if addr != "" {
			list.addrs = []string{addr}
		}

		return nil
	}

	var addrs []string
	if err := unmarshal(&addrs); err != nil {
		return fmt.Errorf("resolver must be an address or a list of addresses: %w", err)
	}

	list.addrs = addrs

	return nil
}

func (list *resolverListConfig) len() int {
	return len(list.addrs)
}
