// Command simplecd runs pipelines, image recipes and secret management from
// the command line.
package main

import "github.com/haatos/simple-cd/cmd/simplecd/commands"

func main() {
	commands.Execute()
}
