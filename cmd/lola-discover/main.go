// lola-discover crawls (and optionally watches) the service discovery
// tree for a single service id, printing every offer it finds. It is a
// thin demo binary over the discovery package: parse flags with pflag,
// build collaborators, run.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/aracom/lola/discovery"
	"github.com/aracom/lola/identifier"
	"github.com/aracom/lola/internal/inotify"
	"github.com/aracom/lola/internal/vfs"
	"github.com/aracom/lola/lola"
	"github.com/aracom/lola/pathbuilder"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("lola-discover", flag.ContinueOnError)
	serviceId := fs.Uint16("service", 0, "service id to crawl")
	instanceId := fs.Int("instance", -1, "instance id to crawl (omit for any instance)")
	watch := fs.Bool("watch", false, "keep watching for offer/withdraw events after the initial crawl")
	root := fs.String("root", "", "platform tmp directory the discovery tree lives under (default os.TempDir())")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	lola.ConfigureLogging()

	platformTmp := *root
	if platformTmp == "" {
		platformTmp = os.TempDir()
	}

	roots := pathbuilder.DefaultRoots(platformTmp)

	watcher, err := inotify.NewReal()
	if err != nil {
		fmt.Fprintln(os.Stderr, "lola-discover: open inotify:", err)
		return 1
	}
	defer watcher.Close()

	d := discovery.New(vfs.NewReal(), watcher, roots)

	id := discovery.Id{ServiceId: identifier.ServiceId(*serviceId)}
	if *instanceId >= 0 {
		iid := identifier.InstanceId(uint16(*instanceId))
		id.InstanceId = &iid
	}

	if !*watch {
		result, err := d.Crawl(id)
		if err != nil {
			fmt.Fprintln(os.Stderr, "lola-discover: crawl:", err)
			return 1
		}

		printResult(result)

		return 0
	}

	result, watched, err := d.CrawlAndWatchWithRetry(id, 3)
	if err != nil {
		fmt.Fprintln(os.Stderr, "lola-discover: crawl_and_watch:", err)
		return 1
	}

	printResult(result)
	fmt.Printf("watching %d path(s); Ctrl-C to stop\n", len(watched))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})

	go func() {
		for {
			events, err := watcher.Read()
			if err != nil {
				close(done)
				return
			}

			for _, ev := range events {
				fmt.Printf("event wd=%d name=%q mask=0x%x\n", ev.Wd, ev.Name, ev.Mask)
			}

			result, err := d.Crawl(id)
			if err == nil {
				printResult(result)
			}
		}
	}()

	select {
	case <-sigCh:
	case <-done:
	}

	return 0
}

func printResult(result discovery.CrawlResult) {
	for _, h := range result.QM {
		fmt.Printf("offer instance=%d pid=%d quality=asil-qm disambiguator=%d\n", uint16(h.InstanceId), h.Pid, h.Disambiguator)
	}

	for _, h := range result.ASILB {
		fmt.Printf("offer instance=%d pid=%d quality=asil-b disambiguator=%d\n", uint16(h.InstanceId), h.Pid, h.Disambiguator)
	}
}
