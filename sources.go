package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/vasyahuyasa/ipscan/ipextract"
	"github.com/vasyahuyasa/ipscan/iptree"
	"github.com/vasyahuyasa/ipscan/linebuf"
	"github.com/vasyahuyasa/ipscan/log"
)

const (
	srcTypeTxt         = "txt"
	srcTypeAWSIpRanges = "aws_ip_ranges"
	srcTypeGeoIP       = "geoip"
	srcTypeHosts       = "hosts"

	httpRequestTimeout = time.Second * 5
)

var srcTypes = []string{srcTypeTxt, srcTypeAWSIpRanges, srcTypeGeoIP, srcTypeHosts}

type sourceConfig struct {
	Src              string             `yaml:"src"`
	Type             string             `yaml:"type"`
	AwsServiceFilter []string           `yaml:"aws_service_filter"`
	Countries        []string           `yaml:"countries"`
	Names            []string           `yaml:"names"`
	Resolver         resolverListConfig `yaml:"resolver"`
}

func (c sourceConfig) kind() string {
	if c.Type == "" {
		return srcTypeTxt
	}

	return strings.ToLower(c.Type)
}

func (c sourceConfig) validate() error {
	switch c.kind() {
	case srcTypeTxt, srcTypeAWSIpRanges:
		if c.Src == "" {
			return fmt.Errorf("%s source needs src", c.kind())
		}
	case srcTypeGeoIP:
		if c.Src == "" {
			return fmt.Errorf("geoip source needs the path of a database in src")
		}
		if len(c.Countries) == 0 {
			return fmt.Errorf("geoip source %q needs countries", c.Src)
		}
	case srcTypeHosts:
		if c.Src == "" && len(c.Names) == 0 {
			return fmt.Errorf("hosts source needs names or src")
		}
	default:
		return fmt.Errorf("unknown source type %q (supported types %v)", c.Type, srcTypes)
	}

	return nil
}

// loader fills the tree from block lists. Per-line problems are warnings,
// read failures abort the load.
type loader struct {
	tree    *iptree.Tree
	buf     *linebuf.Buffer
	scanner *ipextract.Scanner
	metrics *metrics
	client  *http.Client
}

func newLoader(tree *iptree.Tree, buf *linebuf.Buffer, m *metrics) *loader {
	return &loader{
		tree:    tree,
		buf:     buf,
		scanner: ipextract.NewScanner(),
		metrics: m,
		client: &http.Client{
			Timeout: httpRequestTimeout,
		},
	}
}

func (l *loader) loadSource(cfg sourceConfig) error {
	var (
		added int
		err   error
	)

	switch cfg.kind() {
	case srcTypeTxt:
		added, err = l.loadList(cfg.Src)
	case srcTypeAWSIpRanges:
		added, err = l.loadAWSIpRanges(cfg.Src, cfg.AwsServiceFilter)
	case srcTypeGeoIP:
		added, err = l.loadGeoIP(cfg.Src, cfg.Countries)
	case srcTypeHosts:
		added, err = l.loadHosts(cfg.Src, cfg.Names, cfg.Resolver)
	default:
		return fmt.Errorf("unknown source type %q (supported types %v)", cfg.Type, srcTypes)
	}

	if err != nil {
		return fmt.Errorf("cannot load %s source %q: %w", cfg.kind(), cfg.Src, err)
	}

	log.Debugf("source %s (%s) loaded %d blocks", cfg.kind(), cfg.Src, added)

	return nil
}

// loadList reads a newline separated list and adds the first IP or CIDR
// block of every line. Text after # is a comment.
func (l *loader) loadList(src string) (int, error) {
	rc, err := l.open(src)
	if err != nil {
		return 0, err
	}

	// the buffer owns rc from here on
	if err := l.buf.Init(rc); err != nil {
		l.buf.Close()
		return 0, fmt.Errorf("cannot read from %q: %w", src, err)
	}

	defer l.buf.Close()

	added := 0

	for n := 1; ; n++ {
		err := l.buf.LoadLine()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return added, fmt.Errorf("cannot read line %d from %q: %w", n, src, err)
		}

		line := stripComment(l.buf.Line())
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		cand, ok := l.scanner.First(line)
		if !ok {
			l.metrics.rejectedBlocks.WithLabelValues(rejectNoAddress).Inc()
			log.Warnf("line %d of %s does not contain an IP address: %q", n, src, line)
			continue
		}

		if err := l.add(iptree.Block{IP: cand.IP, Prefix: cand.Prefix}); err != nil {
			log.Warnf("line %d of %s: %v", n, src, err)
			continue
		}

		added++
	}

	return added, nil
}

// loadIP adds the first IP or CIDR block found in s.
func (l *loader) loadIP(s string) error {
	cand, ok := l.scanner.First([]byte(s))
	if !ok {
		l.metrics.rejectedBlocks.WithLabelValues(rejectNoAddress).Inc()
		return fmt.Errorf("%q: %w", s, ipextract.ErrNoAddress)
	}

	return l.add(iptree.Block{IP: cand.IP, Prefix: cand.Prefix})
}

func (l *loader) loadAWSIpRanges(src string, filter []string) (int, error) {
	// some fields are omitted
	type awsIpRanges struct {
		Prefixes []struct {
			IpPrefix string `json:"ip_prefix"`
			Service  string `json:"service"`
		} `json:"prefixes"`
	}

	rc, err := l.open(src)
	if err != nil {
		return 0, err
	}

	defer rc.Close()

	var ranges awsIpRanges

	if err := json.NewDecoder(rc).Decode(&ranges); err != nil {
		return 0, fmt.Errorf("cannot unmarshal aws ip range data: %w", err)
	}

	added := 0

	for _, r := range ranges.Prefixes {
		if len(filter) != 0 && !strInSlice(r.Service, filter) {
			continue
		}

		block, err := iptree.ParseBlock(r.IpPrefix)
		if err != nil {
			l.metrics.rejectedBlocks.WithLabelValues(rejectReason(err)).Inc()
			log.Warnf("cannot parse %q: %v", r.IpPrefix, err)
			continue
		}

		if err := l.add(block); err != nil {
			log.Warnf("%s: %v", src, err)
			continue
		}

		added++
	}

	log.Debugf("aws ip ranges %s filter = %v added %d blocks", src, filter, added)

	return added, nil
}

func (l *loader) add(b iptree.Block) error {
	if err := l.tree.InsertBlock(b); err != nil {
		l.metrics.rejectedBlocks.WithLabelValues(rejectReason(err)).Inc()
		return err
	}

	l.metrics.loadedBlocks.Inc()

	return nil
}

// open returns a reader for a local file or an http(s) URL.
func (l *loader) open(src string) (io.ReadCloser, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		res, err := l.client.Get(src)
		if err != nil {
			return nil, fmt.Errorf("cannot perform GET query to %q: %w", src, err)
		}

		if res.StatusCode != http.StatusOK {
			res.Body.Close()
			return nil, fmt.Errorf("cannot read from %q: unexpected status %s", src, res.Status)
		}

		return res.Body, nil
	}

	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("cannot read from %q: %w", src, err)
	}

	return f, nil
}

func stripComment(line []byte) []byte {
	if i := bytes.IndexByte(line, '#'); i != -1 {
		return line[:i]
	}

	return line
}

func strInSlice(str string, all []string) bool {
	for _, v := range all {
		if v == str {
			return true
		}
	}

	return false
}
