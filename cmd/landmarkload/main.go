package main

import "landmarkload/cmd"

func main() {
	cmd.Execute()
}
