// Command cosemclient reads a list of objects from one or more meters and dumps every value as
// XML.
//
//	cosemclient [-debug] session.json objectlist.json comm.json [start date] [end date]
//
// Dates use the layout 2006-01-02.15:04:05 and restrict profile reads by range. A start date
// alone reads until now, no date reads the whole buffer.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/cybroslabs/libcosem-go/config"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02.15:04:05"

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [-debug] session.json objectlist.json comm.json [start date] [end date]\n\n", os.Args[0])
	fmt.Fprintf(out, "Example: %s session.json objectlist.json comm.json 2017-08-01.00:00:00 2017-10-23.14:55:02\n\n", os.Args[0])
	fmt.Fprintln(out, "The dates select profile entries by range, the end date defaults to now.")
	flag.PrintDefaults()
}

func newlogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func parsedate(s string) (*time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, s, time.Local)
	if err != nil {
		return nil, fmt.Errorf("date %q: %w", s, err)
	}
	return &t, nil
}

func main() {
	debug := flag.Bool("debug", false, "log every frame")
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) < 3 || len(args) > 5 {
		usage()
		os.Exit(2)
	}

	zl, err := newlogger(*debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = zl.Sync() }()
	logger := zl.Sugar()

	var r reader
	r.logger = logger
	if len(args) > 3 {
		if r.start, err = parsedate(args[3]); err != nil {
			logger.Fatal(err)
		}
	}
	if len(args) > 4 {
		if r.end, err = parsedate(args[4]); err != nil {
			logger.Fatal(err)
		}
	}
	if err = config.Load(args[0], &r.session); err != nil {
		logger.Fatal(err)
	}
	if err = config.Load(args[1], &r.objects); err != nil {
		logger.Fatal(err)
	}
	if err = config.Load(args[2], &r.comm); err != nil {
		logger.Fatal(err)
	}

	results := r.run()
	name, err := writeresults("result", time.Now(), results)
	if err != nil {
		logger.Fatalf("cannot write the result file: %v", err)
	}
	logger.Infof("result file generated: %s", name)
	if failed(results) {
		os.Exit(1)
	}
}
