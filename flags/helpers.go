// Package flags declares the CLI flag groups of the node launcher.
package flags

import (
	"os"

	cli "gopkg.in/urfave/cli.v1"
)

// NewApp creates the bare cli application; the launcher attaches flags and
// the action.
func NewApp() *cli.App {
	app := cli.NewApp()
	app.Name = "veridian"
	app.Usage = "Veridian validator core node"
	app.Version = "0.1.0"
	app.Writer = os.Stdout
	return app
}

// AllFlags returns every flag group the launcher registers.
func AllFlags() []cli.Flag {
	ff := CommonFlags()
	ff = append(ff, LifecycleFlags()...)
	ff = append(ff, BackendFlags()...)
	return ff
}
