package main

import "github.com/nkvdb/nkv/cmd"

func main() {
	cmd.Execute()
}
