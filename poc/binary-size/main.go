package main

import (
	"fmt"

	// Import all Gantry dependencies to measure binary size
	_ "github.com/go-chi/chi/v5"
	_ "github.com/google/uuid"
	_ "github.com/prometheus/client_golang/prometheus"
	_ "github.com/redis/go-redis/v9"
	_ "github.com/rs/zerolog"
	_ "github.com/spf13/cobra"
	_ "go.etcd.io/bbolt"
	_ "gopkg.in/yaml.v3"
)

func main() {
	fmt.Println("Gantry Binary Size POC")
	fmt.Println("This minimal program imports all major Gantry dependencies.")
	fmt.Println("Build and check the binary size with: go build -o binary-size . && ls -lh binary-size")
}
