package main

import (
	"encoding/binary"
	"fmt"
	"net"
	"strings"

	"github.com/oschwald/maxminddb-golang"

	"github.com/vasyahuyasa/ipscan/iptree"
	"github.com/vasyahuyasa/ipscan/log"
)

type geoIPRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

// loadGeoIP adds every IPv4 network of a MaxMind country database whose
// country is one of countries.
func (l *loader) loadGeoIP(path string, countries []string) (int, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return 0, fmt.Errorf("cannot load GeoIP database from %q: %w", path, err)
	}

	defer db.Close()

	wanted := make([]string, 0, len(countries))
	for _, c := range countries {
		wanted = append(wanted, strings.ToUpper(c))
	}

	added := 0
	networks := db.Networks(maxminddb.SkipAliasedNetworks)

	for networks.Next() {
		var rec geoIPRecord

		ipnet, err := networks.Network(&rec)
		if err != nil {
			return added, fmt.Errorf("cannot decode GeoIP record: %w", err)
		}

		if !strInSlice(rec.Country.ISOCode, wanted) {
			continue
		}

		block, ok := blockFromIPNet(ipnet)
		if !ok {
			continue
		}

		if err := l.add(block); err != nil {
			log.Warnf("geoIP network %s: %v", ipnet, err)
			continue
		}

		added++
	}

	if err := networks.Err(); err != nil {
		return added, fmt.Errorf("cannot walk GeoIP networks: %w", err)
	}

	log.Printf("geoIP loaded %q, countries %s, %d networks", path, strings.Join(wanted, ","), added)

	return added, nil
}

// blockFromIPNet converts IPv4 and IPv4-mapped networks. Other IPv6 networks
// are not representable.
func blockFromIPNet(n *net.IPNet) (iptree.Block, bool) {
	ip4 := n.IP.To4()
	if ip4 == nil {
		return iptree.Block{}, false
	}

	ones, bits := n.Mask.Size()

	switch bits {
	case 32:
	case 128:
		if ones < 96 {
			return iptree.Block{}, false
		}
		ones -= 96
	default:
		return iptree.Block{}, false
	}

	block := iptree.Block{IP: binary.BigEndian.Uint32(ip4), Prefix: ones}

	return block.Masked(), true
}
