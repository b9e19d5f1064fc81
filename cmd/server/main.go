package main

// main runs the gateway CLI. Build-time version variables live in root.go.
func main() {
	Execute()
}
