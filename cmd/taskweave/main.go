// Command taskweave turns requirements into a phased task plan and runs it
// against a collaborator.
package main

func main() {
	Execute()
}
