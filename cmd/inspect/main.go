package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"dialogd/pkg/logger"
	"dialogd/pkg/store"
)

// Offline DB inspector: lists stored users, or dumps one user's full
// message log as JSON. Run against a copy; pebble takes an exclusive
// lock on the directory.
func main() {
	var (
		path = flag.String("db", "", "pebble DB path")
		user = flag.String("user", "", "dump this user's record and messages")
	)
	flag.Parse()
	if *path == "" {
		fmt.Fprintln(os.Stderr, "-db required")
		os.Exit(2)
	}
	logger.InitWithLevel("error")

	st, err := store.Open(*path, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "open failed: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if *user != "" {
		u, err := st.GetUser(*user)
		if err != nil {
			fmt.Fprintf(os.Stderr, "get user: %v\n", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(u)
		return
	}

	users, err := st.GetAllUsers()
	if err != nil {
		fmt.Fprintf(os.Stderr, "list users: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%d user(s)\n", len(users))
	for _, u := range users {
		fmt.Printf("  %s\tchannel=%s\ttruncation=%d\n", u.UserID, u.ChannelID, u.TruncationIndex)
	}
}
