package main

import "github.com/sandrinn/llm-gateway/cmd"

func main() {
	cmd.Execute()
}
