package main

import "github.com/oshokin/agent-deploy/cmd/agent-installer/cmd"

func main() {
	cmd.Execute()
}
