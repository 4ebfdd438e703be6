// lola-shell is an interactive inspector REPL over discovery state and a
// demo call queue: a liner-backed prompt, history file, and simple
// space-split command dispatch over this binding's domain. The "queue"
// command reports the call queue size, not per-slot occupancy.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/aracom/lola/discovery"
	"github.com/aracom/lola/identifier"
	"github.com/aracom/lola/internal/inotify"
	"github.com/aracom/lola/internal/vfs"
	"github.com/aracom/lola/lola"
	"github.com/aracom/lola/methodcall"
	"github.com/aracom/lola/pathbuilder"
)

func main() {
	lola.ConfigureLogging()

	platformTmp := os.TempDir()
	if v := os.Getenv("LOLA_DISCOVERY_ROOT"); v != "" {
		platformTmp = v
	}

	r := &shell{
		roots: pathbuilder.DefaultRoots(platformTmp),
		fs:    vfs.NewReal(),
		queue: methodcall.NewQueue(1),
	}

	if err := r.run(); err != nil {
		fmt.Fprintln(os.Stderr, "lola-shell:", err)
		os.Exit(1)
	}
}

// shell holds the REPL's long-lived state: the discovery root it crawls
// against and a demo call queue that "acquire" and "release" act on
// without needing a live proxy method binding.
type shell struct {
	roots pathbuilder.Roots
	fs    vfs.Filesystem
	queue *methodcall.Queue
	liner *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".lola_shell_history")
}

func (r *shell) run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Println("lola-shell - discovery/queue inspector")
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("lola> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")
				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")
			r.saveHistory()

			return nil

		case "help", "?":
			r.printHelp()

		case "crawl":
			r.cmdCrawl(args)

		case "acquire":
			r.cmdAcquire()

		case "release":
			r.cmdRelease(args)

		case "queue":
			r.cmdQueueInfo()

		default:
			fmt.Printf("unknown command %q; type 'help'\n", cmd)
		}
	}

	r.saveHistory()

	return nil
}

func (r *shell) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *shell) completer(line string) []string {
	commands := []string{"crawl", "acquire", "release", "queue", "help", "exit", "quit", "q"}

	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

func (r *shell) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  crawl <service> [instance]   Crawl the discovery tree for offers")
	fmt.Println("  acquire                      Acquire a slot on the demo call queue")
	fmt.Println("  release <pos>                Release the return-active flag on a slot")
	fmt.Println("  queue                        Show the call queue size")
	fmt.Println("  help                         Show this help")
	fmt.Println("  exit / quit / q              Exit")
}

func (r *shell) cmdCrawl(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: crawl <service> [instance]")
		return
	}

	serviceN, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		fmt.Println("invalid service id:", err)
		return
	}

	id := discovery.Id{ServiceId: identifier.ServiceId(serviceN)}

	if len(args) >= 2 {
		instN, err := strconv.ParseUint(args[1], 10, 16)
		if err != nil {
			fmt.Println("invalid instance id:", err)
			return
		}

		iid := identifier.InstanceId(instN)
		id.InstanceId = &iid
	}

	d := discovery.New(r.fs, inotify.NewFake(), r.roots)

	result, err := d.Crawl(id)
	if err != nil {
		fmt.Println("crawl error:", err)
		return
	}

	if len(result.QM) == 0 && len(result.ASILB) == 0 {
		fmt.Println("no offers found")
		return
	}

	for _, h := range result.QM {
		fmt.Printf("  instance=%d pid=%d quality=asil-qm disambiguator=%d\n", uint16(h.InstanceId), h.Pid, h.Disambiguator)
	}

	for _, h := range result.ASILB {
		fmt.Printf("  instance=%d pid=%d quality=asil-b disambiguator=%d\n", uint16(h.InstanceId), h.Pid, h.Disambiguator)
	}
}

func (r *shell) cmdAcquire() {
	pos, err := r.queue.Acquire()
	if err != nil {
		fmt.Println("acquire failed:", err)
		return
	}

	fmt.Println("acquired slot", pos)
}

func (r *shell) cmdRelease(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: release <pos>")
		return
	}

	pos, err := strconv.Atoi(args[0])
	if err != nil || pos != 0 {
		fmt.Println("invalid slot position (CALL_QUEUE_SIZE is 1, only 0 is valid)")
		return
	}

	r.queue.ReleaseReturn(pos)
	fmt.Println("released slot", pos)
}

func (r *shell) cmdQueueInfo() {
	fmt.Printf("call queue size: %d\n", methodcall.CallQueueSize)
}
