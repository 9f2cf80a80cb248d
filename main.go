package main

import "github.com/andresmejia3/faceclari/cmd"

func main() {
	cmd.Execute()
}
