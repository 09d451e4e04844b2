// Package main is the entry point for arcactl.
package main

import (
	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/kart-io/arca/internal/ctl"
)

func main() {
	ctl.NewApp().Run()
}
