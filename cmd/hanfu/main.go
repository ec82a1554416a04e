// Command hanfu maintains the stored user states of the hanfu bot.
package main

import "github.com/mesh-intelligence/hanfu/internal/cli"

func main() {
	cli.Execute()
}
