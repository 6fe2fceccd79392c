// The main package for the searchstream executable.
package main

import "github.com/docketwatch/searchstream/cmd"

func main() {
	cmd.Execute()
}
