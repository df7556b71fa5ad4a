// Command netstick runs the pocket network reconnaissance device.
package main

import "github.com/anstrom/netstick/cmd/cli"

func main() {
	cli.Execute()
}
