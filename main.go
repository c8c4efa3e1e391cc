package main

import "github.com/jeremyhahn/go-trusted-pki/pkg/cmd"

func main() {
	cmd.Execute()
}
