package main

import "github.com/oshokin/ota-installer/cmd/ota-client/cmd"

func main() {
	cmd.Execute()
}
