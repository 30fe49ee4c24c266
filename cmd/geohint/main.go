// Command geohint infers host locations from domain-name hints and
// confirms them with distributed latency measurements.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
