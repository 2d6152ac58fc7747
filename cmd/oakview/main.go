// Command oakview shows the colour, detection and depth streams of a stereo
// camera with on-device inference, either in a desktop window or on a web
// dashboard.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "oakview:", err)
		os.Exit(1)
	}
}
