package main

import "github.com/nguyentranbao-ct/chat-relay/cmd"

func main() {
	cmd.Execute()
}
