// Command payoutctl is the operator CLI for payoutd.
package main

import "github.com/mbd888/payoutd/internal/cli"

func main() {
	cli.Execute()
}
