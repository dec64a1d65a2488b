package main

import (
	"context"
	"fmt"
	"os"

	"github.com/adewale/keyboardia/internal/persistence"
)

// RunCLI handles subcommand execution. Returns true if a subcommand was handled.
func RunCLI(args []string, dbPath string) bool {
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "version":
		fmt.Printf("coordinatord %s\n", Version)
		return true
	case "sessions":
		return cliSessions(args[1:], dbPath)
	default:
		return false
	}
}

func cliSessions(args []string, dbPath string) bool {
	if len(args) > 0 && args[0] != "list" {
		return false
	}

	st, err := persistence.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	sums, err := st.ListSessionSummaries(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error listing sessions: %v\n", err)
		os.Exit(1)
	}
	if len(sums) == 0 {
		fmt.Println("no sessions")
		return true
	}
	for _, s := range sums {
		fmt.Printf("%-36s  seq=%-8d  updated=%s\n", s.SessionID, s.StateSeq, s.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	return true
}
