package main

// TODO: expose the reconciliation scheduler's next run under /debug/vars.
func main() {
	startWithDig()
}
