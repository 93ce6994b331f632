// Package command turns decoded request frames into typed commands and
// executes them against the store.
package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/emberdb/emberdb/internal/protocol"
)

var (
	// ErrInvalidCommand indicates a request that is not an array or whose
	// leading token is not the expected command name.
	ErrInvalidCommand = errors.New("command: invalid command")
	// ErrInvalidArgument indicates a wrong argument count or an argument of the wrong frame type.
	ErrInvalidArgument = errors.New("command: invalid argument")
)

// Command is one parsed request. Implementations are the types in this package.
type Command interface {
	command()
}

// Get returns the scalar stored under Key.
type Get struct {
	Key string
}

// Set stores Value under Key.
type Set struct {
	Key   string
	Value protocol.Frame
}

// HGet returns one field of a hash.
type HGet struct {
	Key   string
	Field string
}

// HSet stores one field of a hash, creating the hash if needed.
type HSet struct {
	Key   string
	Field string
	Value protocol.Frame
}

// HGetAll returns every field of a hash.
type HGetAll struct {
	Key string
}

// HMGet returns several fields of a hash.
type HMGet struct {
	Key    string
	Fields []string
}

// SAdd adds members to a set, creating the set if needed.
type SAdd struct {
	Key     string
	Members []string
}

// SIsMember tests set membership.
type SIsMember struct {
	Key    string
	Member string
}

// Echo replies with Message.
type Echo struct {
	Message string
}

// Unrecognized is any command name not known to the server. It executes as a no-op.
type Unrecognized struct {
	Name string
}

func (Get) command()          {}
func (Set) command()          {}
func (HGet) command()         {}
func (HSet) command()         {}
func (HGetAll) command()      {}
func (HMGet) command()        {}
func (SAdd) command()         {}
func (SIsMember) command()    {}
func (Echo) command()         {}
func (Unrecognized) command() {}

// arity describes how many arguments follow the command name.
type arity struct {
	args     int
	variadic bool // args is a minimum
}

// Parse converts a request frame into a Command. The frame must be an array
// whose first element is a bulk string naming the command.
func Parse(f protocol.Frame) (Command, error) {
	arr, ok := f.(protocol.Array)
	if !ok {
		return nil, fmt.Errorf("%w: request must be an array", ErrInvalidCommand)
	}
	if arr.Len() == 0 {
		return nil, fmt.Errorf("%w: empty request", ErrInvalidCommand)
	}
	head, ok := arr.At(0).(protocol.BulkString)
	if !ok {
		return nil, fmt.Errorf("%w: command name must be a bulk string", ErrInvalidCommand)
	}

	name := strings.ToLower(head.Text())
	switch name {
	case "get":
		return parseGet(arr)
	case "set":
		return parseSet(arr)
	case "hget":
		return parseHGet(arr)
	case "hset":
		return parseHSet(arr)
	case "hgetall":
		return parseHGetAll(arr)
	case "hmget":
		return parseHMGet(arr)
	case "sadd":
		return parseSAdd(arr)
	case "sismember":
		return parseSIsMember(arr)
	case "echo":
		return parseEcho(arr)
	default:
		return Unrecognized{Name: name}, nil
	}
}

// validate checks the argument count and that the leading token names the command.
func validate(arr protocol.Array, name string, a arity) error {
	got := arr.Len() - 1
	if a.variadic && got < a.args {
		return fmt.Errorf("%w: %s expects at least %d arguments, got %d", ErrInvalidArgument, name, a.args, got)
	}
	if !a.variadic && got != a.args {
		return fmt.Errorf("%w: %s expects %d arguments, got %d", ErrInvalidArgument, name, a.args, got)
	}
	head, ok := arr.At(0).(protocol.BulkString)
	if !ok {
		return fmt.Errorf("%w: command name must be a bulk string", ErrInvalidCommand)
	}
	if !strings.EqualFold(head.Text(), name) {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidCommand, name, head.Text())
	}
	return nil
}

// text returns argument i as text. Invalid UTF-8 is replaced, never rejected.
func text(arr protocol.Array, i int) (string, error) {
	bs, ok := arr.At(i).(protocol.BulkString)
	if !ok {
		return "", fmt.Errorf("%w: argument %d must be a bulk string", ErrInvalidArgument, i)
	}
	return bs.Text(), nil
}

// texts returns arguments from..end as text.
func texts(arr protocol.Array, from int) ([]string, error) {
	out := make([]string, 0, arr.Len()-from)
	for i := from; i < arr.Len(); i++ {
		s, err := text(arr, i)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func parseGet(arr protocol.Array) (Command, error) {
	if err := validate(arr, "get", arity{args: 1}); err != nil {
		return nil, err
	}
	key, err := text(arr, 1)
	if err != nil {
		return nil, err
	}
	return Get{Key: key}, nil
}

func parseSet(arr protocol.Array) (Command, error) {
	if err := validate(arr, "set", arity{args: 2}); err != nil {
		return nil, err
	}
	key, err := text(arr, 1)
	if err != nil {
		return nil, err
	}
	return Set{Key: key, Value: arr.At(2)}, nil
}

func parseHGet(arr protocol.Array) (Command, error) {
	if err := validate(arr, "hget", arity{args: 2}); err != nil {
		return nil, err
	}
	args, err := texts(arr, 1)
	if err != nil {
		return nil, err
	}
	return HGet{Key: args[0], Field: args[1]}, nil
}

func parseHSet(arr protocol.Array) (Command, error) {
	if err := validate(arr, "hset", arity{args: 3}); err != nil {
		return nil, err
	}
	key, err := text(arr, 1)
	if err != nil {
		return nil, err
	}
	field, err := text(arr, 2)
	if err != nil {
		return nil, err
	}
	return HSet{Key: key, Field: field, Value: arr.At(3)}, nil
}

func parseHGetAll(arr protocol.Array) (Command, error) {
	if err := validate(arr, "hgetall", arity{args: 1}); err != nil {
		return nil, err
	}
	key, err := text(arr, 1)
	if err != nil {
		return nil, err
	}
	return HGetAll{Key: key}, nil
}

func parseHMGet(arr protocol.Array) (Command, error) {
	if err := validate(arr, "hmget", arity{args: 2, variadic: true}); err != nil {
		return nil, err
	}
	args, err := texts(arr, 1)
	if err != nil {
		return nil, err
	}
	return HMGet{Key: args[0], Fields: args[1:]}, nil
}

func parseSAdd(arr protocol.Array) (Command, error) {
	if err := validate(arr, "sadd", arity{args: 2, variadic: true}); err != nil {
		return nil, err
	}
	args, err := texts(arr, 1)
	if err != nil {
		return nil, err
	}
	return SAdd{Key: args[0], Members: args[1:]}, nil
}

func parseSIsMember(arr protocol.Array) (Command, error) {
	if err := validate(arr, "sismember", arity{args: 2}); err != nil {
		return nil, err
	}
	args, err := texts(arr, 1)
	if err != nil {
		return nil, err
	}
	return SIsMember{Key: args[0], Member: args[1]}, nil
}

func parseEcho(arr protocol.Array) (Command, error) {
	if err := validate(arr, "echo", arity{args: 1}); err != nil {
		return nil, err
	}
	msg, err := text(arr, 1)
	if err != nil {
		return nil, err
	}
	return Echo{Message: msg}, nil
}

// Name returns the lower-case command name, used as a metrics label.
func Name(cmd Command) string {
	switch cmd.(type) {
	case Get:
		return "get"
	case Set:
		return "set"
	case HGet:
		return "hget"
	case HSet:
		return "hset"
	case HGetAll:
		return "hgetall"
	case HMGet:
		return "hmget"
	case SAdd:
		return "sadd"
	case SIsMember:
		return "sismember"
	case Echo:
		return "echo"
	case Unrecognized:
		return "unrecognized"
	default:
		return "unknown"
	}
}

// Key returns the key a command addresses. Echo and Unrecognized have none.
func Key(cmd Command) (string, bool) {
	switch c := cmd.(type) {
	case Get:
		return c.Key, true
	case Set:
		return c.Key, true
	case HGet:
		return c.Key, true
	case HSet:
		return c.Key, true
	case HGetAll:
		return c.Key, true
	case HMGet:
		return c.Key, true
	case SAdd:
		return c.Key, true
	case SIsMember:
		return c.Key, true
	default:
		return "", false
	}
}
