package main

import "github.com/oshokin/agent-deploy/cmd/agent-packager/cmd"

func main() {
	cmd.Execute()
}
