// emberdb-benchmark - load generator for EmberDB
//
// Usage:
//
//	emberdb-benchmark [flags]
//
// Flags:
//
//	-addr string     Server address (default "localhost:6379")
//	-clients int     Number of parallel clients (default 50)
//	-requests int    Total number of requests (default 100000)
//	-pipeline int    Commands sent per round trip (default 1)
//	-test string     Test type: set,get,mixed,hash,set-members,echo (default "mixed")
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/emberdb/emberdb/internal/protocol"
)

func main() {
	addr := flag.String("addr", "localhost:6379", "Server address")
	clients := flag.Int("clients", 50, "Number of parallel clients")
	requests := flag.Int("requests", 100000, "Total number of requests")
	pipeline := flag.Int("pipeline", 1, "Commands sent per round trip")
	testType := flag.String("test", "mixed", "Test type: set,get,mixed,hash,set-members,echo")
	flag.Parse()

	if *clients <= 0 || *pipeline <= 0 {
		fmt.Fprintln(os.Stderr, "clients and pipeline must be positive")
		os.Exit(2)
	}

	fmt.Println("====== EmberDB Benchmark ======")
	fmt.Printf("Server: %s\n", *addr)
	fmt.Printf("Clients: %d\n", *clients)
	fmt.Printf("Requests: %d\n", *requests)
	fmt.Printf("Pipeline: %d\n", *pipeline)
	fmt.Printf("Test: %s\n", *testType)
	fmt.Println()

	var completed, failed atomic.Int64
	reqPerClient := *requests / *clients

	start := time.Now()
	var g errgroup.Group

	for i := 0; i < *clients; i++ {
		clientID := i
		g.Go(func() error {
			conn, err := net.Dial("tcp", *addr)
			if err != nil {
				failed.Add(int64(reqPerClient))
				return err
			}
			defer conn.Close()

			writer := protocol.NewWriter(conn)
			writer.SetAutoFlush(false)
			reader := protocol.NewReader(conn, 0)

			for j := 0; j < reqPerClient; j += *pipeline {
				batch := min(*pipeline, reqPerClient-j)
				for k := 0; k < batch; k++ {
					if err := writer.WriteCommand(commandFor(*testType, clientID, j+k)...); err != nil {
						failed.Add(int64(batch))
						return err
					}
				}
				if err := writer.Flush(); err != nil {
					failed.Add(int64(batch))
					return err
				}
				for k := 0; k < batch; k++ {
					reply, err := reader.ReadFrame()
					if err != nil {
						failed.Add(int64(batch - k))
						return err
					}
					if _, isErr := reply.(protocol.SimpleError); isErr {
						failed.Add(1)
						continue
					}
					completed.Add(1)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "client error: %v\n", err)
	}
	elapsed := time.Since(start)

	done := completed.Load()
	fmt.Println("====== Results ======")
	fmt.Printf("Total time: %v\n", elapsed)
	fmt.Printf("Completed: %d\n", done)
	fmt.Printf("Errors: %d\n", failed.Load())
	if done > 0 {
		fmt.Printf("Requests/sec: %.2f\n", float64(done)/elapsed.Seconds())
		fmt.Printf("Avg latency: %.3f ms\n", float64(elapsed.Microseconds())/1000/float64(done)*float64(*clients))
	}
}

// commandFor returns the j-th command a client sends for the given test.
func commandFor(test string, clientID, j int) []string {
	key := fmt.Sprintf("key:%d:%d", clientID, j)
	value := fmt.Sprintf("value:%d:%d", clientID, j)

	switch test {
	case "set":
		return []string{"SET", key, value}
	case "get":
		return []string{"GET", key}
	case "mixed":
		if j%2 == 0 {
			return []string{"SET", key, value}
		}
		return []string{"GET", fmt.Sprintf("key:%d:%d", clientID, j-1)}
	case "hash":
		hkey := fmt.Sprintf("hash:%d", clientID)
		field := fmt.Sprintf("field:%d", j%100)
		if j%2 == 0 {
			return []string{"HSET", hkey, field, value}
		}
		return []string{"HGET", hkey, field}
	case "set-members":
		skey := fmt.Sprintf("set:%d", clientID)
		member := fmt.Sprintf("member:%d", j%100)
		if j%2 == 0 {
			return []string{"SADD", skey, member}
		}
		return []string{"SISMEMBER", skey, member}
	default:
		return []string{"ECHO", value}
	}
}
