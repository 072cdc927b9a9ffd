package main

import "github.com/oshokin/ota-installer/cmd/ota-inspect/cmd"

func main() {
	cmd.Execute()
}
