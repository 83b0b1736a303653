package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/vasyahuyasa/ipscan/iptree"
	"github.com/vasyahuyasa/ipscan/linebuf"
	"github.com/vasyahuyasa/ipscan/log"
)

const version = "0.9.0"

const (
	exitOK          = 0
	exitUsage       = 2
	exitLineTooLong = 3
	exitIOError     = 4
	exitOpenError   = 5
)

const usageText = `Usage: ipscan [OPTION]... [FILE]...
Search for IP addresses or CIDR blocks in FILEs (or STDIN) and print out matched lines.

Loading IP lists:
  -i, --ip-list FILE          load newline-separated list of IP addresses (CIDR notation supported)
  -I, --ip-search IP          add the IP to the list of IP addresses searched for (CIDR notation supported)
  -c, --config FILE           load additional sources and defaults from a YAML config

Search options:
  -v, --invert-match          instead of printing lines that match the IP list, print ones that don't
  -p, --match-position IDX    check against the IDXth IP on the line instead of any of them
                              Supports negative IDX, counting from right instead from left.
                              (-1 = last IP, 1 = first IP, 0 = any position; default: 0)

Output control:
      --dump-ips              instead of running the search dump the computed CIDR blocks to STDOUT
      --dump-format FMT       cidr (default) or range
      --metrics-addr ADDR     serve Prometheus metrics on ADDR
      --verbose               print additional messages to STDERR (default)
      --quiet                 don't print messages to STDERR
      --debug                 print debug messages to STDERR

Miscellaneous:
  -V, --version               print version information and exit
  -h, --help                  print this message and exit

Examples:
# Find all communication where neither source nor destination are in a private range:
> cat /var/syslog/* | ipscan -v -I 10.0.0.0/8 -I 192.168.0.0/16 -I 172.16.0.0/12 -p 0
# Find all communication originating from China:
> cat /var/syslog/* | ipscan -i chinese_ranges.txt -p 1
# Simplify a list of IP ranges:
> ipscan -I 10.0.0.0/24 -I 10.0.1.0/24 --dump-ips
	# outputs: 10.0.0.0/23
`

type options struct {
	lists       []string
	ips         []string
	configFile  string
	position    int
	invert      bool
	dumpIPs     bool
	dumpFormat  string
	metricsAddr string
	verbose     bool
	quiet       bool
	debug       bool
	showVersion bool
	help        bool
	inputs      []string

	changed func(name string) bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}

	flags := pflag.NewFlagSet("ipscan", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() {
		fmt.Fprint(stderr, usageText)
	}

	flags.StringArrayVarP(&opts.lists, "ip-list", "i", nil, "load newline-separated list of IP addresses")
	flags.StringArrayVarP(&opts.ips, "ip-search", "I", nil, "add the IP to the list of IP addresses searched for")
	flags.StringVarP(&opts.configFile, "config", "c", "", "YAML config file")
	flags.IntVarP(&opts.position, "match-position", "p", 0, "position of the IP on the line to check")
	flags.BoolVarP(&opts.invert, "invert-match", "v", false, "print lines that don't match")
	flags.BoolVar(&opts.dumpIPs, "dump-ips", false, "dump the computed CIDR blocks")
	flags.StringVar(&opts.dumpFormat, "dump-format", dumpFormatCIDR, "dump format: cidr or range")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flags.BoolVar(&opts.verbose, "verbose", true, "print additional messages to STDERR")
	flags.BoolVar(&opts.quiet, "quiet", false, "don't print messages to STDERR")
	flags.BoolVar(&opts.debug, "debug", false, "print debug messages")
	flags.BoolVarP(&opts.showVersion, "version", "V", false, "print version information and exit")
	flags.BoolVarP(&opts.help, "help", "h", false, "print this message and exit")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	opts.inputs = flags.Args()
	opts.changed = flags.Changed

	return opts, nil
}

// run is main without the process exit, it returns the exit code.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	log.SetOutput(stderr)

	if len(args) == 0 {
		fmt.Fprint(stdout, usageText)
		return exitOK
	}

	opts, err := parseFlags(args, stderr)
	if err != nil {
		return exitUsage
	}

	if opts.help {
		fmt.Fprint(stdout, usageText)
		return exitOK
	}

	if opts.showVersion {
		fmt.Fprintf(stdout, "ipscan %s\n\n", version)
		return exitOK
	}

	cfg := config{}
	if opts.configFile != "" {
		cfg, err = loadConfigFile(opts.configFile)
		if err != nil {
			log.Printf("cannot load config: %v", err)
			return exitUsage
		}
	}

	opts.merge(cfg)

	if opts.dumpFormat != dumpFormatCIDR && opts.dumpFormat != dumpFormatRange {
		log.Printf("unknown dump format %q (supported: %s, %s)", opts.dumpFormat, dumpFormatCIDR, dumpFormatRange)
		return exitUsage
	}

	log.SetVerbose(opts.verbose && !opts.quiet)
	log.EnableDebug(opts.debug)

	reg := prometheus.NewRegistry()
	m := newMetrics(reg)

	if opts.metricsAddr != "" {
		serveMetrics(opts.metricsAddr, reg)
	}

	tree := iptree.New()
	buf := linebuf.New()
	defer buf.Free()

	if code := loadAll(newLoader(tree, buf, m), opts, cfg); code != exitOK {
		return code
	}

	if tree.IsEmpty() {
		log.Warnf("no IP blocks have been loaded")
	}

	if opts.dumpIPs {
		if err := dumpTree(stdout, tree, opts.dumpFormat); err != nil {
			log.Printf("%v", err)
			return exitCode(err)
		}

		return exitOK
	}

	out := bufio.NewWriter(stdout)
	code := scanInputs(newFilter(tree, buf, out, m, opts.position, opts.invert), opts.inputs, stdin)

	if err := out.Flush(); err != nil {
		log.Printf("cannot write output: %v", err)
		if code == exitOK {
			code = exitIOError
		}
	}

	return code
}

// merge applies config values for everything not set on the command line.
func (opts *options) merge(cfg config) {
	if !opts.changed("match-position") && cfg.Position != 0 {
		opts.position = cfg.Position
	}

	if !opts.changed("invert-match") && cfg.Invert {
		opts.invert = true
	}

	if !opts.changed("quiet") && !opts.changed("verbose") && cfg.Quiet {
		opts.quiet = true
	}

	if !opts.changed("metrics-addr") && cfg.MetricsAddr != "" {
		opts.metricsAddr = cfg.MetricsAddr
	}
}

func loadAll(l *loader, opts *options, cfg config) int {
	for _, src := range opts.lists {
		added, err := l.loadList(src)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
				log.Warnf("could not open file %s: %v", src, err)
				continue
			}

			log.Printf("cannot load %s: %v", src, err)
			return exitCode(err)
		}

		log.Debugf("list %s loaded %d blocks", src, added)
	}

	for _, src := range cfg.Sources {
		if err := l.loadSource(src); err != nil {
			log.Printf("%v", err)
			return exitCode(err)
		}
	}

	for _, ip := range opts.ips {
		if err := l.loadIP(ip); err != nil {
			log.Warnf("cannot add %s: %v", ip, err)
		}
	}

	return exitOK
}

// scanInputs filters every input in order with one buffer. "-" or no inputs
// at all means stdin. A failing input does not stop the following ones.
func scanInputs(f *filter, inputs []string, stdin io.Reader) int {
	if len(inputs) == 0 {
		inputs = []string{"-"}
	}

	code := exitOK

	for _, input := range inputs {
		var r io.Reader

		if input == "-" {
			// stdin stays open, the buffer must not own it
			r = struct{ io.Reader }{stdin}
		} else {
			file, err := os.Open(input)
			if err != nil {
				log.Printf("cannot open %s: %v", input, err)
				code = firstCode(code, exitOpenError)
				continue
			}

			r = file
		}

		if err := f.run(r); err != nil {
			log.Printf("IO error in %s: %v", input, err)
			code = firstCode(code, exitCode(err))

			var we *writeError
			if errors.As(err, &we) {
				return code
			}
		}
	}

	return code
}

func firstCode(current, next int) int {
	if current != exitOK {
		return current
	}

	return next
}

// exitCode derives the process exit code from a fatal error.
func exitCode(err error) int {
	var pathErr *fs.PathError

	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, linebuf.ErrLineTooLong):
		return exitLineTooLong
	case errors.As(err, &pathErr):
		return exitOpenError
	default:
		return exitIOError
	}
}
