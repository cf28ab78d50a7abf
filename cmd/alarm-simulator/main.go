package main

import "github.com/oshokin/alarm-pipeline/cmd/alarm-simulator/cmd"

func main() {
	cmd.Execute()
}
