package main

import "github.com/oshokin/agent-deploy/cmd/agent-uninstaller/cmd"

func main() {
	cmd.Execute()
}
