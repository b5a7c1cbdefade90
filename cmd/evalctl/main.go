// Command evalctl submits a design and evaluator archive to the gateway and
// summarizes the verdict.
package main

func main() {
	Execute()
}
