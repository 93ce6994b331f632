package command

import (
	"github.com/emberdb/emberdb/internal/protocol"
	"github.com/emberdb/emberdb/internal/store"
)

func ok() protocol.Frame { return protocol.SimpleString("OK") }

func nilReply() protocol.Frame { return protocol.NullBulkString{} }

// orNil substitutes the nil reply for a missing value.
func orNil(v protocol.Frame) protocol.Frame {
	if v == nil {
		return nilReply()
	}
	return v
}

// Execute runs cmd against s and returns the reply frame. It never fails:
// misses are reported as the null bulk string.
func Execute(cmd Command, s *store.Store) protocol.Frame {
	switch c := cmd.(type) {
	case Get:
		v, _ := s.Get(c.Key)
		return orNil(v)

	case Set:
		s.Set(c.Key, c.Value)
		return ok()

	case HGet:
		v, _ := s.HGet(c.Key, c.Field)
		return orNil(v)

	case HSet:
		s.HSet(c.Key, c.Field, c.Value)
		return ok()

	case HGetAll:
		pairs, found := s.HGetAll(c.Key)
		if !found {
			return nilReply()
		}
		items := make([]protocol.Frame, 0, 2*len(pairs))
		for _, p := range pairs {
			items = append(items, protocol.BulkStringFromString(p.Field), orNil(p.Value))
		}
		return protocol.NewArray(items...)

	case HMGet:
		vals := s.HMGet(c.Key, c.Fields...)
		for i, v := range vals {
			vals[i] = orNil(v)
		}
		return protocol.NewArray(vals...)

	case SAdd:
		return protocol.Integer(s.SAdd(c.Key, c.Members...))

	case SIsMember:
		if s.SIsMember(c.Key, c.Member) {
			return protocol.Integer(1)
		}
		return protocol.Integer(0)

	case Echo:
		return protocol.BulkStringFromString(c.Message)

	default:
		// Unrecognized commands are a no-op.
		return ok()
	}
}
