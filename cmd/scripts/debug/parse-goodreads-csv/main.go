package main

import (
	"fmt"
	"os"

	"github.com/bookhive/bookhive/pkg/importer"
	"github.com/jessevdk/go-flags"
	"github.com/robinjoseph08/golib/logger"
)

func main() {
	log := logger.New()

	var opts struct {
		Limit int `short:"n" long:"limit" description:"Only print the first n rows" default:"0"`
	}

	args, err := flags.Parse(&opts)
	if err != nil {
		log.Err(err).Fatal("flags parse error")
	}

	if len(args) != 1 {
		fmt.Println("go run ./cmd/scripts/debug/parse-goodreads-csv <path/to/goodreads_library_export.csv>")
		os.Exit(1)
	}

	f, err := os.Open(args[0])
	if err != nil {
		log.Err(err).Fatal("open file error")
	}
	defer f.Close()

	rows, err := importer.ParseCSV(f)
	if err != nil {
		log.Err(err).Fatal("csv parse error")
	}

	fmt.Printf("%d rows\n", len(rows))
	for i, row := range rows {
		if opts.Limit > 0 && i >= opts.Limit {
			break
		}
		in := row.Input("")
		fmt.Printf("%s  %q by %s  shelf=%s status=%s stars=%v finished=%v owned=%v\n",
			row.GoodreadsID, row.Title, row.Author, row.Shelf, deref(in.Status), deref(in.Stars), deref(in.FinishedAt), row.Owned)
	}
}

func deref[T any](p *T) interface{} {
	if p == nil {
		return "-"
	}
	return *p
}
