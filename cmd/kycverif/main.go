// Command kycverif runs the verification engine from the command line.
package main

func main() {
	Execute()
}
