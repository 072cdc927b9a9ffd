package main

import "github.com/oshokin/ota-installer/cmd/ota-server/cmd"

func main() {
	cmd.Execute()
}
