package main

import "github.com/oshokin/alarm-pipeline/cmd/alarm-pipeline/cmd"

func main() {
	cmd.Execute()
}
