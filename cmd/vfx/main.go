// Command vfx applies a video effect to a local file, either on this machine
// or through the remote pipeline.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
