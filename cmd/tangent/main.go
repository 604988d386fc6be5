package main

import (
	"tangent/cmd/handlers"
)

func main() {
	handlers.Execute()
}
