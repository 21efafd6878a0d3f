// Command raftdemo brings up an in-process cluster of raft.Nodes backed
// by a kvstore.Store and a simple line-oriented REPL for PUT/GET/DELETE
// commands against the replicated store.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/halvard/raft/cluster"
	"github.com/halvard/raft/raft"
	"github.com/halvard/raft/raft/persist"
	"github.com/halvard/raft/statemachine/kvstore"
)

func main() {
	peerCount := flag.Int("peers", 3, "number of nodes in the demo cluster")
	dataDir := flag.String("data", "", "directory for persistent state (empty disables persistence)")
	flag.Parse()

	opts := raft.DefaultOptions()

	var persisterFor func(id int) raft.Persister
	if *dataDir != "" {
		if err := os.MkdirAll(*dataDir, 0o755); err != nil {
			log.Fatalf("failed to create data directory: %v", err)
		}
		persisterFor = func(id int) raft.Persister {
			return persist.NewFile(filepath.Join(*dataDir, fmt.Sprintf("node-%d.state", id)))
		}
	}

	c := cluster.NewCluster(*peerCount, opts, persisterFor)
	if err := c.Serve(); err != nil {
		log.Fatalf("failed to start cluster: %v", err)
	}
	defer c.Shutdown()

	stores := make([]*kvstore.Store, *peerCount)
	done := make(chan struct{})
	defer close(done)
	for i := 0; i < *peerCount; i++ {
		stores[i] = kvstore.NewStore()
		go stores[i].Run(c.ApplyCh[i], done)
	}

	log.Printf("raft demo cluster started with %d nodes", *peerCount)
	log.Println("Enter commands: PUT <key> <value>, GET <key>, DELETE <key>, QUIT")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		cmd := strings.ToUpper(parts[0])

		switch cmd {
		case "PUT":
			if len(parts) < 3 {
				fmt.Println("usage: PUT <key> <value>")
				continue
			}
			payload, err := kvstore.EncodeCommand(kvstore.Command{
				Op:    kvstore.OpPut,
				Key:   parts[1],
				Value: []byte(strings.Join(parts[2:], " ")),
			})
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			submitAndReport(c, payload, stores)

		case "DELETE":
			if len(parts) != 2 {
				fmt.Println("usage: DELETE <key>")
				continue
			}
			payload, err := kvstore.EncodeCommand(kvstore.Command{Op: kvstore.OpDelete, Key: parts[1]})
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			submitAndReport(c, payload, stores)

		case "GET":
			if len(parts) != 2 {
				fmt.Println("usage: GET <key>")
				continue
			}
			found := false
			for _, s := range stores {
				if v, ok := s.Get(parts[1]); ok {
					fmt.Printf("%s\n", v)
					found = true
					break
				}
			}
			if !found {
				fmt.Println("(not found)")
			}

		case "QUIT", "EXIT":
			fmt.Println("shutting down...")
			return

		default:
			fmt.Println("unknown command. Available: PUT, GET, DELETE, QUIT")
		}
	}

	if err := scanner.Err(); err != nil {
		log.Fatalf("error reading input: %v", err)
	}
}

func submitAndReport(c *cluster.Cluster, payload []byte, stores []*kvstore.Store) {
	index, _, ok := c.Submit(payload)
	if !ok {
		fmt.Println("error: no leader available, retry")
		return
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		applied := true
		for _, s := range stores {
			if s.LastApplied() < index {
				applied = false
				break
			}
		}
		if applied {
			fmt.Println("OK")
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	fmt.Println("timed out waiting for commit")
}
