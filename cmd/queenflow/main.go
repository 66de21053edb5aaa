// Command queenflow runs the multi-agent orchestration server and its CLI.
package main

func main() {
	Execute()
}
