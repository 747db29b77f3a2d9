// Command pagetreectl is the interactive console over a pagetree engine
// directory: create and list trees and put/update/get/delete/scan their
// entries, plus trigger a checkpoint. Grounded in the teacher's cmd/dinodb, generalized
// from dinodb's project-flag-selected REPL (go/pager/hash/b+tree/...) to a
// single console.New REPL, since this engine has one coherent storage
// model rather than several teaching variants to switch between; the
// networked (-p port) server mode is dropped along with it, since nothing
// in this engine's scope needs a remote client.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"pagetree/pkg/config"
	"pagetree/pkg/console"
	"pagetree/pkg/engine"
)

func main() {
	dirFlag := flag.String("db", "data", "engine directory")
	pageSizeFlag := flag.Int("page-size", config.DefaultPageSize, "page size for a newly created engine directory")
	cacheFlag := flag.Int("cache", config.DefaultCacheCapacity, "resident node cache capacity")
	promptFlag := flag.Bool("prompt", true, "print the interactive prompt")
	flag.Parse()

	opts := config.DefaultOptions()
	opts.PageSize = *pageSizeFlag
	opts.CacheCapacity = *cacheFlag

	e, err := engine.Open(*dirFlag, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer e.Close()

	r := console.New(e)
	r.Run(uuid.New(), config.GetPrompt(*promptFlag), nil, nil)
}
