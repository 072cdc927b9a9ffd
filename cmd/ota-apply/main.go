package main

import "github.com/oshokin/ota-installer/cmd/ota-apply/cmd"

func main() {
	cmd.Execute()
}
