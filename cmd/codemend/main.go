package main

import "github.com/lexcodex/codemend/app/cmd"

func main() {
	cmd.Execute()
}
