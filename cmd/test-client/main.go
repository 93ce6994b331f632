// test-client sends every supported command to a running EmberDB server and
// checks the replies.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/emberdb/emberdb/internal/protocol"
)

type check struct {
	args []string
	want protocol.Frame
}

func bulk(s string) protocol.Frame { return protocol.BulkStringFromString(s) }

func main() {
	addr := flag.String("addr", "127.0.0.1:6379", "Server address")
	flag.Parse()

	conn, err := net.DialTimeout("tcp", *addr, 5*time.Second)
	if err != nil {
		fmt.Printf("Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	// Keys are suffixed so repeated runs against one server start clean.
	suffix := fmt.Sprintf(":%d", time.Now().UnixNano())
	k := func(name string) string { return name + suffix }

	checks := []check{
		{[]string{"PING"}, protocol.SimpleString("OK")},
		{[]string{"ECHO", "hello"}, bulk("hello")},
		{[]string{"GET", k("greeting")}, protocol.NullBulkString{}},
		{[]string{"SET", k("greeting"), "world"}, protocol.SimpleString("OK")},
		{[]string{"GET", k("greeting")}, bulk("world")},
		{[]string{"HSET", k("user"), "name", "ember"}, protocol.SimpleString("OK")},
		{[]string{"HSET", k("user"), "lang", "go"}, protocol.SimpleString("OK")},
		{[]string{"HGET", k("user"), "name"}, bulk("ember")},
		{[]string{"HGET", k("user"), "missing"}, protocol.NullBulkString{}},
		{[]string{"HMGET", k("user"), "lang", "missing"}, protocol.NewArray(bulk("go"), protocol.NullBulkString{})},
		{[]string{"HGETALL", k("user")}, protocol.NewArray(bulk("lang"), bulk("go"), bulk("name"), bulk("ember"))},
		{[]string{"SADD", k("tags"), "a", "b", "a"}, protocol.Integer(2)},
		{[]string{"SISMEMBER", k("tags"), "b"}, protocol.Integer(1)},
		{[]string{"SISMEMBER", k("tags"), "z"}, protocol.Integer(0)},
	}

	reader := protocol.NewReader(conn, 0)
	writer := protocol.NewWriter(conn)
	failures := 0

	for _, c := range checks {
		fmt.Printf(">>> %s\n", strings.Join(c.args, " "))
		conn.SetDeadline(time.Now().Add(5 * time.Second))
		if err := writer.WriteCommand(c.args...); err != nil {
			fmt.Printf("write failed: %v\n", err)
			os.Exit(1)
		}
		got, err := reader.ReadFrame()
		if err != nil {
			fmt.Printf("read failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("<<< %s\n", protocol.Format(got))
		if !protocol.Equal(c.want, got) {
			fmt.Printf("    expected %s\n", protocol.Format(c.want))
			failures++
		}
	}

	if failures > 0 {
		fmt.Printf("\n%d of %d checks failed\n", failures, len(checks))
		os.Exit(1)
	}
	fmt.Printf("\nAll %d checks passed\n", len(checks))
}
