// Command writer appends synthetic access log lines with random IPv4
// addresses to a file, for feeding ipscan under load.
package main

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
)

const (
	defaultDelayAfterWrite = time.Millisecond
	reportDelaySeconds     = 1

	defaultMetricsAddr = ":12383"
)

var (
	linesWrittenBeforeReport uint64

	linesCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ipscan_writer_lines_written_total",
	})
)

func main() {
	delayAfterWrite := pflag.DurationP("delay", "d", defaultDelayAfterWrite, "pause after every line")
	metricsAddr := pflag.String("metrics-addr", defaultMetricsAddr, "serve Prometheus metrics on this address")
	seed := pflag.Int64("seed", time.Now().UnixNano(), "random seed")
	ipsPerLine := pflag.IntP("ips", "n", 2, "IP addresses per line")

	pflag.Parse()

	if pflag.NArg() != 1 {
		log.Fatal("Usage: writer [--delay D] [--ips N] <file>")
	}

	logfile := pflag.Arg(0)

	f, err := os.OpenFile(logfile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, fs.ModePerm)
	if err != nil {
		log.Fatalf("cannot open %s: %v", logfile, err)
	}
	defer func() {
		f.Close()
	}()

	go func() {
		err := setUpMetricServer(*metricsAddr)
		if err != nil {
			log.Fatalf("cannot create metric server: %v", err)
		}
	}()

	err = writer(f, rand.New(rand.NewSource(*seed)), *ipsPerLine, *delayAfterWrite)
	if err != nil {
		log.Fatalf("writer failed: %v", err)
	}
}

func writer(w io.Writer, rnd *rand.Rand, ipsPerLine int, delayAfterWrite time.Duration) error {
	bw := bufio.NewWriter(w)

	go report()

	for {
		writeLine(bw, rnd, ipsPerLine)

		// flush per line so a tailing reader sees whole lines
		if err := bw.Flush(); err != nil {
			return err
		}

		linesCounter.Inc()
		atomic.AddUint64(&linesWrittenBeforeReport, 1)
		time.Sleep(delayAfterWrite)
	}
}

func writeLine(w *bufio.Writer, rnd *rand.Rand, ipsPerLine int) {
	fmt.Fprintf(w, "%s - - [%s] \"GET /api/items/?id=%d HTTP/2.0\" 200 %d",
		randomIP(rnd), time.Now().UTC().Format("02/Jan/2006:15:04:05 -0700"), rnd.Intn(10000), rnd.Intn(4096))

	for i := 1; i < ipsPerLine; i++ {
		fmt.Fprintf(w, " hop=%s", randomIP(rnd))
	}

	w.WriteByte('\n')
}

func randomIP(rnd *rand.Rand) string {
	ip := rnd.Uint32()

	return fmt.Sprintf("%d.%d.%d.%d", ip>>24, (ip>>16)&0xff, (ip>>8)&0xff, ip&0xff)
}

func report() {
	ticker := time.NewTicker(time.Second * reportDelaySeconds)

	for range ticker.C {
		linesWritten := atomic.SwapUint64(&linesWrittenBeforeReport, 0)
		log.Printf("%d lines/sec", linesWritten/reportDelaySeconds)
	}
}

func setUpMetricServer(addr string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, nil)
}
