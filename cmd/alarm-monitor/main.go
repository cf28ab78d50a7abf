package main

import "github.com/oshokin/alarm-pipeline/cmd/alarm-monitor/cmd"

func main() {
	cmd.Execute()
}
