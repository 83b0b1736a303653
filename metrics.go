package main

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vasyahuyasa/ipscan/ipextract"
	"github.com/vasyahuyasa/ipscan/iptree"
	"github.com/vasyahuyasa/ipscan/log"
)

const (
	resultMatch       = "match"
	resultNoMatch     = "no_match"
	resultNoAddress   = "no_address"
	resultOutOfBounds = "out_of_bounds"

	rejectNoAddress     = "no_address"
	rejectInvalidIP     = "invalid_ip"
	rejectInvalidCIDR   = "invalid_cidr"
	rejectInvalidPrefix = "invalid_prefix"
	rejectOther         = "other"
)

type metrics struct {
	lines          *prometheus.CounterVec
	printedLines   prometheus.Counter
	loadedBlocks   prometheus.Counter
	rejectedBlocks *prometheus.CounterVec
	inputErrors    prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		lines: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ipscan_lines_scanned_total",
			Help: "Input lines scanned, by match result.",
		}, []string{"result"}),
		printedLines: factory.NewCounter(prometheus.CounterOpts{
			Name: "ipscan_lines_printed_total",
			Help: "Lines written to the output.",
		}),
		loadedBlocks: factory.NewCounter(prometheus.CounterOpts{
			Name: "ipscan_blocks_loaded_total",
			Help: "CIDR blocks added to the set.",
		}),
		rejectedBlocks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ipscan_blocks_rejected_total",
			Help: "List entries that could not be added to the set, by reason.",
		}, []string{"reason"}),
		inputErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "ipscan_input_errors_total",
			Help: "Inputs aborted by a read error.",
		}),
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ipextract.ErrNoAddress):
		return rejectNoAddress
	case errors.Is(err, iptree.ErrInvalidIP):
		return rejectInvalidIP
	case errors.Is(err, iptree.ErrInvalidCIDR):
		return rejectInvalidCIDR
	case errors.Is(err, iptree.ErrInvalidPrefix):
		return rejectInvalidPrefix
	default:
		return rejectOther
	}
}

// serveMetrics exposes reg on addr in the background.
func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	go func() {
		log.Printf("serving metrics on %s", addr)

		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()
}
