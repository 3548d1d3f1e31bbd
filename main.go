package main

import (
	"os"

	"sigs.k8s.io/controller-runtime/pkg/manager/signals"

	"github.com/vjranagit/spack-sub003/internal/cli"
)

func main() {
	os.Exit(cli.Execute(signals.SetupSignalHandler(), os.Args[1:]))
}
