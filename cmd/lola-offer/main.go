// lola-offer is a minimal skeleton-side demo binary: it offers a single
// (service, instance) using shm.Lifecycle against real SHM and real
// partial-restart markers, then waits for SIGINT/SIGTERM to stop-offer
// and clean up: parse flags, build collaborators, run until signalled.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/aracom/lola/identifier"
	"github.com/aracom/lola/internal/config"
	"github.com/aracom/lola/internal/vfs"
	"github.com/aracom/lola/lola"
	"github.com/aracom/lola/pathbuilder"
	"github.com/aracom/lola/shm"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("lola-offer", flag.ContinueOnError)
	serviceId := fs.Uint16("service", 0, "service id to offer")
	instanceId := fs.Uint16("instance", 0, "instance id to offer")
	asilB := fs.Bool("asil-b", false, "also create an ASIL-B control region")
	instanceConfig := fs.String("config", "", "optional service instance deployment JSONC file")
	root := fs.String("root", "", "platform tmp directory the partial-restart markers live under (default os.TempDir())")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	lola.ConfigureLogging()

	events := map[string]config.EventDeployment{}

	if *instanceConfig != "" {
		dep, _, err := config.LoadServiceInstanceDeployment(*instanceConfig)
		if err != nil {
			fmt.Fprintln(os.Stderr, "lola-offer: load config:", err)
			return 1
		}

		events = dep.Events
	}

	sizes, err := shm.Simulate(events, *asilB)
	if err != nil {
		fmt.Fprintln(os.Stderr, "lola-offer: simulate sizes:", err)
		return 1
	}

	platformTmp := *root
	if platformTmp == "" {
		platformTmp = os.TempDir()
	}

	roots := pathbuilder.DefaultRoots(platformTmp)
	lifecycle := shm.New(vfs.NewReal(), roots)

	sid := identifier.ServiceId(*serviceId)
	iid := identifier.InstanceId(*instanceId)

	handle, err := lifecycle.Offer(sid, iid, *asilB, sizes)
	if err != nil {
		fmt.Fprintln(os.Stderr, "lola-offer: offer:", err)
		return 1
	}

	fmt.Printf("offered service=%04x instance=%05x reopened=%v data_bytes=%d control_qm_bytes=%d\n",
		uint16(sid), uint16(iid), handle.Reopened, len(handle.Data.Data), len(handle.Control.Data))
	fmt.Println("Ctrl-C to stop-offer")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	if err := lifecycle.StopOffer(handle, shm.SelectAll); err != nil {
		fmt.Fprintln(os.Stderr, "lola-offer: stop-offer:", err)
		return 1
	}

	fmt.Println("stopped offer")

	return 0
}
