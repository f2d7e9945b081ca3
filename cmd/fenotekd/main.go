// Command fenotekd bridges Fenotek doorbells to Home Assistant over MQTT and
// serves them over HTTP.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
