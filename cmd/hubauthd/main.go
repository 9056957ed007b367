package main

import "github.com/hearthhome/hubauth/cmd/hubauthd/cmd"

func main() {
	cmd.Execute()
}
