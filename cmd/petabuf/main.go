// Command petabuf is a Unix-pipeline stream buffer: it decouples a
// producer from a consumer on stdin/stdout, absorbing bursts by
// spilling to local disk once its in-memory budget is exhausted.
//
//	producer | petabuf | consumer
//
// It takes no options and no positional arguments.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/dustin/go-humanize"

	"petabuf/internal/ioloop"
	"petabuf/internal/memprobe"
	"petabuf/internal/pagebuf"
	"petabuf/internal/spillfile"
)

const usage = "usage: petabuf\n"

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	logger := log.New(stderr, "petabuf: ", log.LstdFlags)

	fs := flag.NewFlagSet("petabuf", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil || fs.NArg() > 0 {
		fmt.Fprint(stderr, usage)
		return 1
	}

	memBytes, err := memprobe.TotalMemory()
	if err != nil {
		logger.Printf("%v", err)
		return 1
	}
	logger.Printf("host memory %s, nfree budget %s pages",
		humanize.Bytes(memBytes), humanize.Comma(int64(memBytes/pagebuf.PageSize/2)))

	factory, err := spillfile.NewFactory("")
	if err != nil {
		logger.Printf("%v", err)
		return 1
	}
	logger.Printf("spill directory %s", factory.Dir())

	mgr := pagebuf.NewManager(memBytes, factory, logger)
	loop := ioloop.New(mgr, int(os.Stdin.Fd()), int(os.Stdout.Fd()), logger)

	if err := loop.Run(); err != nil {
		logger.Printf("%v", err)
		return 1
	}

	stats := mgr.Stats()
	logger.Printf("exit clean: nmapped=%d nondisk=%d nfree=%d", stats.NMapped, stats.NOnDisk, stats.NFree)
	return 0
}
