package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/bookhive/bookhive/pkg/catalog"
	"github.com/bookhive/bookhive/pkg/config"
	"github.com/bookhive/bookhive/pkg/goodreads"
	"github.com/jessevdk/go-flags"
	"github.com/robinjoseph08/golib/logger"
)

func main() {
	log := logger.New()

	var opts struct {
		Detail bool   `short:"d" long:"detail" description:"Fetch the detail page of the first result"`
		Base   string `short:"b" long:"base-url" description:"Goodreads base URL" default:"https://www.goodreads.com"`
	}

	args, err := flags.Parse(&opts)
	if err != nil {
		log.Err(err).Fatal("flags parse error")
	}

	if len(args) == 0 {
		fmt.Println("go run ./cmd/scripts/debug/goodreads-search [--detail] <query>")
		os.Exit(1)
	}

	cfg := config.NewForTest()
	cfg.GoodreadsBaseURL = opts.Base
	client, err := goodreads.NewClient(cfg)
	if err != nil {
		log.Err(err).Fatal("goodreads client error")
	}

	ctx := context.Background()
	results, err := client.Search(ctx, strings.Join(args, " "))
	if err != nil {
		log.Err(err).Fatal("search error")
	}
	for _, r := range results {
		author := ""
		if len(r.Authors) > 0 {
			author = r.Authors[0]
		}
		fmt.Printf("%s  %q by %s  (%.2f, %d ratings)\n  %s\n", catalog.HiveID(r.Title, author), r.Title, strings.Join(r.Authors, ", "), r.Rating, r.RatingCount, r.URL)
	}

	if !opts.Detail || len(results) == 0 {
		return
	}
	detail, err := client.Detail(ctx, results[0].URL)
	if err != nil {
		log.Err(err).Fatal("detail error")
	}
	fmt.Printf("\nTitle: %s\nAuthors: %v\nGenres: %v\nRating: %.2f (%d)\n", detail.Title, detail.Authors, detail.Genres, detail.Rating, detail.RatingCount)
	if detail.Meta.NumPages != nil {
		fmt.Printf("Pages: %d\n", *detail.Meta.NumPages)
	}
	if detail.Series != nil {
		fmt.Printf("Series: %s\n", detail.Series.Title)
	}
}
