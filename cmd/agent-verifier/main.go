package main

import "github.com/oshokin/agent-deploy/cmd/agent-verifier/cmd"

func main() {
	cmd.Execute()
}
