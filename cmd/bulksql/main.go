// Command bulksql runs the bulk insert, update, upsert and delete jobs of a
// configuration file against a database.
//
//	bulksql run -config bulksql.yaml [job...]
//	bulksql check -config bulksql.yaml [job...]
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}
	var err error
	switch command := os.Args[1]; command {
	case "run":
		err = handleRun(os.Args[2:])
	case "check":
		err = handleCheck(os.Args[2:])
	case "version", "-v", "--version":
		fmt.Printf("bulksql v%s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", command)
		printUsage()
		os.Exit(2)
	}
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "bulksql: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("bulksql - dialect-aware bulk writes for Postgres, MySQL and SQLite")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  bulksql <command> [options] [job...]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run       Run the configured jobs (all, or the named ones)")
	fmt.Println("  check     Load and validate job inputs without connecting")
	fmt.Println("  version   Show version information")
	fmt.Println("  help      Show this help message")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  BULKSQL_DRIVER           database/sql driver: postgres, pgx, mysql or sqlite")
	fmt.Println("  BULKSQL_DSN              Data source name (or DATABASE_URL)")
	fmt.Println("  BULKSQL_LOG_LEVEL        debug, info, warn or error (default: info)")
	fmt.Println("  BULKSQL_LOG_FORMAT       text or json (default: text)")
	fmt.Println("  BULKSQL_CONCURRENCY      Jobs run at once (default: 1)")
}

// commonFlags are shared by every command reading the configuration.
type commonFlags struct {
	config string
	env    string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.config, "config", os.Getenv("BULKSQL_CONFIG"), "path to the YAML configuration file")
	fs.StringVar(&c.env, "env", "", "path to a .env file (default: .env when present)")
}

// envFiles returns the env files to load: the one named by -env, or .env
// when it exists.
func (c *commonFlags) envFiles() []string {
	if c.env != "" {
		return []string{c.env}
	}
	if _, err := os.Stat(".env"); err == nil {
		return []string{".env"}
	}
	return nil
}
