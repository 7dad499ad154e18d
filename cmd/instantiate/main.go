// Instantiate - multi-cloud deployment backend.
package main

func main() {
	Execute()
}
